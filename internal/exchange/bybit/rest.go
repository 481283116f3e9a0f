package bybit

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"breakout-bot/internal/market"
)

const recvWindow = "5000"

// Client is the REST client for the v5 API.
type Client struct {
	key, secret, base string
	category          string
	rest              *resty.Client
}

// NewREST builds a client. category is "linear" or "spot".
func NewREST(key, secret, base, category string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second) // default fallback
	}
	return &Client{key: key, secret: secret, base: base, category: category, rest: r}
}

// envelope is the common v5 response wrapper.
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

func (e *envelope) err() error {
	if e.RetCode != 0 {
		return &APIError{Code: e.RetCode, Msg: e.RetMsg}
	}
	return nil
}

// OrderReq is a market order request.
type OrderReq struct {
	Category  string `json:"category"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`      // Buy or Sell
	OrderType string `json:"orderType"` // Market
	Qty       string `json:"qty"`
}

// Place submits a market order and returns the exchange order ID.
func (c *Client) Place(symbol, side string, qty float64) (string, error) {
	req := OrderReq{
		Category:  c.category,
		Symbol:    symbol,
		Side:      side,
		OrderType: "Market",
		Qty:       strconv.FormatFloat(qty, 'f', -1, 64),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal order: %w", err)
	}

	env := &envelope{}
	if err := c.post("/v5/order/create", body, env); err != nil {
		return "", err
	}
	if err := env.err(); err != nil {
		return "", err
	}

	var result struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return "", fmt.Errorf("decode order result: %w", err)
	}
	return result.OrderID, nil
}

// SetTrailingStop arms the exchange-side trailing stop, given as an
// absolute price distance from the mark price.
func (c *Client) SetTrailingStop(symbol string, distance float64) error {
	req := map[string]any{
		"category":     c.category,
		"symbol":       symbol,
		"trailingStop": strconv.FormatFloat(distance, 'f', -1, 64),
		"positionIdx":  0,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal trading stop: %w", err)
	}

	env := &envelope{}
	if err := c.post("/v5/position/trading-stop", body, env); err != nil {
		return err
	}
	return env.err()
}

// SetStopLoss arms a fixed exchange-side stop loss.
func (c *Client) SetStopLoss(symbol string, price float64) error {
	req := map[string]any{
		"category":    c.category,
		"symbol":      symbol,
		"stopLoss":    strconv.FormatFloat(price, 'f', -1, 64),
		"positionIdx": 0,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal stop loss: %w", err)
	}

	env := &envelope{}
	if err := c.post("/v5/position/trading-stop", body, env); err != nil {
		return err
	}
	return env.err()
}

// GetPosition queries the exchange-side position for one symbol.
// A nil Position with nil error means no position is open.
func (c *Client) GetPosition(symbol string) (*Position, error) {
	params := map[string]string{
		"category": c.category,
		"symbol":   symbol,
	}

	env := &envelope{}
	if err := c.get("/v5/position/list", params, true, env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}

	var result struct {
		List []struct {
			Symbol       string `json:"symbol"`
			Side         string `json:"side"`
			Size         string `json:"size"`
			AvgPrice     string `json:"avgPrice"`
			TrailingStop string `json:"trailingStop"`
			StopLoss     string `json:"stopLoss"`
			UpdatedTime  string `json:"updatedTime"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("decode position result: %w", err)
	}

	for _, p := range result.List {
		size, _ := strconv.ParseFloat(p.Size, 64)
		if p.Symbol != symbol || size == 0 {
			continue
		}
		avg, _ := strconv.ParseFloat(p.AvgPrice, 64)
		trail, _ := strconv.ParseFloat(p.TrailingStop, 64)
		sl, _ := strconv.ParseFloat(p.StopLoss, 64)
		updated, _ := strconv.ParseInt(p.UpdatedTime, 10, 64)
		return &Position{
			Symbol:       p.Symbol,
			Side:         p.Side,
			Size:         size,
			AvgPrice:     avg,
			TrailingStop: trail,
			StopLoss:     sl,
			UpdatedAt:    time.UnixMilli(updated),
		}, nil
	}
	return nil, nil
}

// WalletBalance returns the unified account's total equity in USD.
func (c *Client) WalletBalance() (float64, error) {
	params := map[string]string{"accountType": "UNIFIED"}

	env := &envelope{}
	if err := c.get("/v5/account/wallet-balance", params, true, env); err != nil {
		return 0, err
	}
	if err := env.err(); err != nil {
		return 0, err
	}

	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return 0, fmt.Errorf("decode wallet result: %w", err)
	}
	if len(result.List) == 0 {
		return 0, fmt.Errorf("empty wallet response")
	}
	equity, err := strconv.ParseFloat(result.List[0].TotalEquity, 64)
	if err != nil {
		return 0, fmt.Errorf("parse total equity: %w", err)
	}
	return equity, nil
}

// GetKlines fetches candle history, oldest first. The API returns
// newest first with at most 1000 rows per call.
func (c *Client) GetKlines(symbol string, interval time.Duration, start, end time.Time, limit int) ([]Kline, error) {
	params := map[string]string{
		"category": c.category,
		"symbol":   symbol,
		"interval": IntervalString(interval),
		"limit":    strconv.Itoa(limit),
	}
	if !start.IsZero() {
		params["start"] = strconv.FormatInt(start.UnixMilli(), 10)
	}
	if !end.IsZero() {
		params["end"] = strconv.FormatInt(end.UnixMilli(), 10)
	}

	env := &envelope{}
	if err := c.get("/v5/market/kline", params, false, env); err != nil {
		return nil, err
	}
	if err := env.err(); err != nil {
		return nil, err
	}

	var result struct {
		List [][]string `json:"list"`
	}
	if err := json.Unmarshal(env.Result, &result); err != nil {
		return nil, fmt.Errorf("decode kline result: %w", err)
	}

	klines := make([]Kline, 0, len(result.List))
	for _, row := range result.List {
		if len(row) < 7 {
			continue
		}
		ms, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}
		k := Kline{StartTime: time.UnixMilli(ms).UTC()}
		k.Open, _ = strconv.ParseFloat(row[1], 64)
		k.High, _ = strconv.ParseFloat(row[2], 64)
		k.Low, _ = strconv.ParseFloat(row[3], 64)
		k.Close, _ = strconv.ParseFloat(row[4], 64)
		k.Volume, _ = strconv.ParseFloat(row[5], 64)
		k.Turnover, _ = strconv.ParseFloat(row[6], 64)
		klines = append(klines, k)
	}

	// oldest first
	sort.Slice(klines, func(i, j int) bool { return klines[i].StartTime.Before(klines[j].StartTime) })
	return klines, nil
}

// GetCandles fetches klines converted to the bot's candle type.
func (c *Client) GetCandles(symbol string, interval time.Duration, start, end time.Time, limit int) ([]market.Candle, error) {
	klines, err := c.GetKlines(symbol, interval, start, end, limit)
	if err != nil {
		return nil, err
	}
	candles := make([]market.Candle, len(klines))
	for i, k := range klines {
		candles[i] = market.Candle{
			Symbol: symbol,
			Ts:     k.StartTime,
			Open:   k.Open,
			High:   k.High,
			Low:    k.Low,
			Close:  k.Close,
			Volume: k.Volume,
		}
	}
	return candles, nil
}

func (c *Client) get(path string, params map[string]string, signed bool, out *envelope) error {
	req := c.rest.R().SetQueryParams(params).SetResult(out)

	if signed {
		ts := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.SetHeader("X-BAPI-API-KEY", c.key).
			SetHeader("X-BAPI-TIMESTAMP", ts).
			SetHeader("X-BAPI-RECV-WINDOW", recvWindow).
			SetHeader("X-BAPI-SIGN", Sign(c.secret, ts, c.key, recvWindow, canonicalQuery(params)))
	}

	resp, err := req.Get(c.base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

func (c *Client) post(path string, body []byte, out *envelope) error {
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	resp, err := c.rest.R().
		SetHeader("Content-Type", "application/json").
		SetHeader("X-BAPI-API-KEY", c.key).
		SetHeader("X-BAPI-TIMESTAMP", ts).
		SetHeader("X-BAPI-RECV-WINDOW", recvWindow).
		SetHeader("X-BAPI-SIGN", Sign(c.secret, ts, c.key, recvWindow, string(body))).
		SetBody(body).
		SetResult(out).
		Post(c.base + path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("API error: status %d, body: %s", resp.StatusCode(), resp.String())
	}
	return nil
}

// canonicalQuery builds the signing payload: the query string with
// keys in sorted order, matching what resty sends.
func canonicalQuery(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	v := url.Values{}
	for _, k := range keys {
		v.Set(k, params[k])
	}
	return v.Encode()
}
