package cfg

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settings is the resolved runtime configuration shared by the
// backtester and the live trader.
type Settings struct {
	Key, Secret string
	BaseURL     string
	WsURL       string
	RESTTimeout time.Duration
	DryRun      bool

	Symbols  []string
	Interval time.Duration

	Strategy StrategySettings
	Regime   RegimeSettings
	Risk     RiskSettings
	Exec     ExecSettings

	TelegramToken  string
	TelegramChatID string
	AlertsEnabled  bool

	DataPath      string
	MetricsPort   int
	CheckInterval time.Duration
}

type StrategySettings struct {
	BBPeriod        int     `yaml:"bbPeriod"`
	BBStdDev        float64 `yaml:"bbStdDev"`
	LookbackPeriod  int     `yaml:"lookbackPeriod"`
	BBWidthPctMax   float64 `yaml:"bbwidthPctMax"` // percentile, 0-100
	VolumeRatioMin  float64 `yaml:"volumeRatioMin"`
	VolumePeriod    int     `yaml:"volumePeriod"`
	MAPeriod        int     `yaml:"maPeriod"`
	ADXPeriod       int     `yaml:"adxPeriod"`
	MinRewardRisk   float64 `yaml:"minRewardRisk"`
	UseTrendExit    bool    `yaml:"useTrendExit"`
	UseTrailingStop bool    `yaml:"useTrailingStop"`
}

type RegimeSettings struct {
	Enabled             bool    `yaml:"enabled"`
	ComputeWhenDisabled bool    `yaml:"computeWhenDisabled"`
	Symbol              string  `yaml:"symbol"`
	MAPeriod            int     `yaml:"maPeriod"`
	ADXThreshold        float64 `yaml:"adxThreshold"`
	HighLookback        int     `yaml:"highLookback"`
	RecentHighBars      int     `yaml:"recentHighBars"`
}

type RiskSettings struct {
	InitialCapital   float64 `yaml:"initialCapital"`
	RiskPerTrade     float64 `yaml:"riskPerTrade"`
	TrailPct         float64 `yaml:"trailPct"`
	MaxPositions     int     `yaml:"maxPositions"`
	PerPositionCap   float64 `yaml:"perPositionCap"`
	DailyLossLimit   float64 `yaml:"dailyLossLimit"`
	WeeklyLossLimit  float64 `yaml:"weeklyLossLimit"`
	MonthlyLossLimit float64 `yaml:"monthlyLossLimit"`
	MaxDrawdown      float64 `yaml:"maxDrawdown"`
}

type ExecSettings struct {
	SlippageBps    float64 `yaml:"slippageBps"`
	CommissionRate float64 `yaml:"commissionRate"`
	MinNotional    float64 `yaml:"minNotional"`
}

// ConfigFile mirrors the on-disk YAML layout.
type ConfigFile struct {
	API struct {
		Key     string `yaml:"key"`
		Secret  string `yaml:"secret"`
		BaseURL string `yaml:"baseURL"`
		WsURL   string `yaml:"wsURL"`
	} `yaml:"api"`

	Universe struct {
		Symbols  []string `yaml:"symbols"`
		Interval string   `yaml:"interval"`
	} `yaml:"universe"`

	Strategy StrategySettings `yaml:"strategy"`
	Regime   RegimeSettings   `yaml:"regime"`
	Risk     RiskSettings     `yaml:"risk"`
	Exec     ExecSettings     `yaml:"execution"`

	Alerts struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"botToken"`
		ChatID   string `yaml:"chatID"`
	} `yaml:"alerts"`

	System struct {
		DataPath      string `yaml:"dataPath"`
		MetricsPort   int    `yaml:"metricsPort"`
		RESTTimeout   string `yaml:"restTimeout"`
		CheckInterval string `yaml:"checkInterval"`
		DryRun        bool   `yaml:"dryRun"`
	} `yaml:"system"`
}

// Load resolves settings from CONFIG_FILE if set, otherwise from the
// environment. A .env file in the working directory is honored first.
func Load() (Settings, error) {
	_ = godotenv.Load()

	if configPath := os.Getenv("CONFIG_FILE"); configPath != "" {
		return LoadFile(configPath)
	}
	return loadFromEnv()
}

// LoadFile loads settings from a YAML file with environment overrides.
func LoadFile(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := defaultsFile()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	interval, err := time.ParseDuration(orString(config.Universe.Interval, "4h"))
	if err != nil {
		return Settings{}, fmt.Errorf("invalid interval %q: %w", config.Universe.Interval, err)
	}
	restTimeout, err := time.ParseDuration(orString(config.System.RESTTimeout, "5s"))
	if err != nil {
		restTimeout = 5 * time.Second
	}
	checkInterval, err := time.ParseDuration(orString(config.System.CheckInterval, "4h"))
	if err != nil {
		checkInterval = 4 * time.Hour
	}

	settings := Settings{
		Key:            getEnvOrDefault("BYBIT_API_KEY", config.API.Key),
		Secret:         getEnvOrDefault("BYBIT_API_SECRET", config.API.Secret),
		BaseURL:        getEnvOrDefault("BASE_URL", orString(config.API.BaseURL, "https://api.bybit.com")),
		WsURL:          getEnvOrDefault("WS_URL", orString(config.API.WsURL, "wss://stream.bybit.com/v5/public/linear")),
		RESTTimeout:    restTimeout,
		DryRun:         getBoolOrDefault("DRY_RUN", config.System.DryRun),
		Symbols:        getSymbolsFromEnvOrConfig(config.Universe.Symbols),
		Interval:       interval,
		Strategy:       config.Strategy,
		Regime:         config.Regime,
		Risk:           config.Risk,
		Exec:           config.Exec,
		TelegramToken:  getEnvOrDefault("TELEGRAM_BOT_TOKEN", config.Alerts.BotToken),
		TelegramChatID: getEnvOrDefault("TELEGRAM_CHAT_ID", config.Alerts.ChatID),
		AlertsEnabled:  getBoolOrDefault("TELEGRAM_ENABLED", config.Alerts.Enabled),
		DataPath:       getEnvOrDefault("DATA_PATH", config.System.DataPath),
		MetricsPort:    getIntOrDefault("METRICS_PORT", orInt(config.System.MetricsPort, 8080)),
		CheckInterval:  checkInterval,
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	settings := Settings{
		Key:            os.Getenv("BYBIT_API_KEY"),
		Secret:         os.Getenv("BYBIT_API_SECRET"),
		BaseURL:        getEnvOrDefault("BASE_URL", "https://api.bybit.com"),
		WsURL:          getEnvOrDefault("WS_URL", "wss://stream.bybit.com/v5/public/linear"),
		RESTTimeout:    getDurationOrDefault("REST_TIMEOUT", 5*time.Second),
		DryRun:         getBoolOrDefault("DRY_RUN", true),
		Symbols:        splitOrDefault(os.Getenv("SYMBOLS"), []string{"BTCUSDT"}),
		Interval:       getDurationOrDefault("INTERVAL", 4*time.Hour),
		Strategy:       DefaultStrategy(),
		Regime:         DefaultRegime(),
		Risk:           DefaultRisk(),
		Exec:           DefaultExec(),
		TelegramToken:  os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID: os.Getenv("TELEGRAM_CHAT_ID"),
		AlertsEnabled:  getBoolOrDefault("TELEGRAM_ENABLED", false),
		DataPath:       getEnvOrDefault("DATA_PATH", "data"),
		MetricsPort:    getIntOrDefault("METRICS_PORT", 8080),
		CheckInterval:  getDurationOrDefault("CHECK_INTERVAL", 4*time.Hour),
	}

	settings.Risk.InitialCapital = getFloatOrDefault("INITIAL_CAPITAL", settings.Risk.InitialCapital)
	settings.Risk.RiskPerTrade = getFloatOrDefault("RISK_PER_TRADE", settings.Risk.RiskPerTrade)
	settings.Risk.MaxPositions = getIntOrDefault("MAX_POSITIONS", settings.Risk.MaxPositions)

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

// DefaultStrategy returns the production strategy parameters.
func DefaultStrategy() StrategySettings {
	return StrategySettings{
		BBPeriod:        20,
		BBStdDev:        2.0,
		LookbackPeriod:  90,
		BBWidthPctMax:   35,
		VolumeRatioMin:  2.0,
		VolumePeriod:    20,
		MAPeriod:        20,
		ADXPeriod:       14,
		MinRewardRisk:   1.5,
		UseTrendExit:    true,
		UseTrailingStop: true,
	}
}

func DefaultRegime() RegimeSettings {
	return RegimeSettings{
		Enabled:             false,
		ComputeWhenDisabled: true,
		Symbol:              "BTCUSDT",
		MAPeriod:            200,
		ADXThreshold:        25.0,
		HighLookback:        20,
		RecentHighBars:      5,
	}
}

func DefaultRisk() RiskSettings {
	return RiskSettings{
		InitialCapital:   10000,
		RiskPerTrade:     0.05,
		TrailPct:         0.10,
		MaxPositions:     3,
		PerPositionCap:   0.20,
		DailyLossLimit:   0.03,
		WeeklyLossLimit:  0.08,
		MonthlyLossLimit: 0.15,
		MaxDrawdown:      0.20,
	}
}

func DefaultExec() ExecSettings {
	return ExecSettings{
		SlippageBps:    10,
		CommissionRate: 0.001,
		MinNotional:    1_000_000,
	}
}

func defaultsFile() ConfigFile {
	var c ConfigFile
	c.Strategy = DefaultStrategy()
	c.Regime = DefaultRegime()
	c.Risk = DefaultRisk()
	c.Exec = DefaultExec()
	return c
}

func validateSettings(s *Settings) error {
	if len(s.Symbols) == 0 {
		return fmt.Errorf("at least one trading symbol must be specified")
	}
	if s.Interval < time.Minute || s.Interval > 7*24*time.Hour {
		return fmt.Errorf("interval must be between 1m and 168h, got %v", s.Interval)
	}

	st := s.Strategy
	if st.BBPeriod < 2 || st.BBPeriod > 500 {
		return fmt.Errorf("bollinger period must be between 2 and 500, got %d", st.BBPeriod)
	}
	if st.LookbackPeriod < st.BBPeriod {
		return fmt.Errorf("percentile lookback %d must cover at least one bollinger period %d", st.LookbackPeriod, st.BBPeriod)
	}
	if st.BBWidthPctMax <= 0 || st.BBWidthPctMax > 100 {
		return fmt.Errorf("bbwidth percentile threshold must be between 0 and 100, got %f", st.BBWidthPctMax)
	}
	if st.VolumeRatioMin <= 0 {
		return fmt.Errorf("volume ratio threshold must be positive, got %f", st.VolumeRatioMin)
	}
	if st.VolumePeriod < 2 {
		return fmt.Errorf("volume average period must be at least 2, got %d", st.VolumePeriod)
	}
	if st.MAPeriod < 2 {
		return fmt.Errorf("ma period must be at least 2, got %d", st.MAPeriod)
	}
	if st.MinRewardRisk < 0 {
		return fmt.Errorf("minimum reward/risk must not be negative, got %f", st.MinRewardRisk)
	}

	r := s.Risk
	if r.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %f", r.InitialCapital)
	}
	if r.RiskPerTrade <= 0 || r.RiskPerTrade > 0.2 {
		return fmt.Errorf("risk per trade must be between 0 and 0.2 (20%%), got %f", r.RiskPerTrade)
	}
	if r.TrailPct <= 0 || r.TrailPct >= 1 {
		return fmt.Errorf("trailing stop pct must be between 0 and 1, got %f", r.TrailPct)
	}
	if r.MaxPositions < 1 || r.MaxPositions > 20 {
		return fmt.Errorf("max positions must be between 1 and 20, got %d", r.MaxPositions)
	}
	if r.PerPositionCap <= 0 || r.PerPositionCap > 1 {
		return fmt.Errorf("per-position cap must be between 0 and 1, got %f", r.PerPositionCap)
	}
	if r.DailyLossLimit <= 0 || r.DailyLossLimit > 0.5 {
		return fmt.Errorf("daily loss limit must be between 0 and 0.5 (50%%), got %f", r.DailyLossLimit)
	}
	if r.WeeklyLossLimit < r.DailyLossLimit {
		return fmt.Errorf("weekly loss limit %f must not be tighter than daily %f", r.WeeklyLossLimit, r.DailyLossLimit)
	}
	if r.MonthlyLossLimit < r.WeeklyLossLimit {
		return fmt.Errorf("monthly loss limit %f must not be tighter than weekly %f", r.MonthlyLossLimit, r.WeeklyLossLimit)
	}
	if r.MaxDrawdown <= 0 || r.MaxDrawdown >= 1 {
		return fmt.Errorf("max drawdown must be between 0 and 1, got %f", r.MaxDrawdown)
	}

	e := s.Exec
	if e.SlippageBps < 0 || e.SlippageBps > 500 {
		return fmt.Errorf("slippage must be between 0 and 500 bps, got %f", e.SlippageBps)
	}
	if e.CommissionRate < 0 || e.CommissionRate > 0.01 {
		return fmt.Errorf("commission rate must be between 0 and 0.01 (1%%), got %f", e.CommissionRate)
	}
	if e.MinNotional < 0 {
		return fmt.Errorf("liquidity notional floor must not be negative, got %f", e.MinNotional)
	}

	if s.Regime.Enabled || s.Regime.ComputeWhenDisabled {
		if s.Regime.Enabled && s.Regime.Symbol == "" {
			return fmt.Errorf("regime filter enabled but no reference symbol configured")
		}
		if s.Regime.MAPeriod < 2 {
			return fmt.Errorf("regime ma period must be at least 2, got %d", s.Regime.MAPeriod)
		}
		if s.Regime.HighLookback < 1 {
			return fmt.Errorf("regime high lookback must be at least 1, got %d", s.Regime.HighLookback)
		}
		if s.Regime.RecentHighBars < 1 {
			return fmt.Errorf("regime recent high bars must be at least 1, got %d", s.Regime.RecentHighBars)
		}
	}

	if s.AlertsEnabled {
		if s.TelegramToken == "" || s.TelegramChatID == "" {
			return fmt.Errorf("alerts enabled but telegram token or chat id is missing")
		}
	}

	if s.MetricsPort < 1024 || s.MetricsPort > 65535 {
		return fmt.Errorf("metrics port must be between 1024 and 65535, got %d", s.MetricsPort)
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func splitOrDefault(v string, def []string) []string {
	if v == "" {
		return def
	}
	return strings.Split(v, ",")
}

func getSymbolsFromEnvOrConfig(configSymbols []string) []string {
	if env := os.Getenv("SYMBOLS"); env != "" {
		return strings.Split(env, ",")
	}
	if len(configSymbols) > 0 {
		return configSymbols
	}
	return []string{"BTCUSDT"}
}

func orString(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func orInt(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
