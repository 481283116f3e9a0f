// Package alert sends operational notifications. Delivery is best
// effort: a failed alert is logged and dropped, never allowed to
// block or fail the trading path.
package alert

import (
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"breakout-bot/internal/risk"
)

// Notifier delivers alerts about trades and risk events.
type Notifier interface {
	Notify(text string)
}

// Telegram sends alerts through the Telegram bot API.
type Telegram struct {
	token  string
	chatID string
	rest   *resty.Client
}

// NewTelegram builds a notifier. Returns nil when token or chatID is
// empty, and a nil *Telegram is safe to call.
func NewTelegram(token, chatID string) *Telegram {
	if token == "" || chatID == "" {
		return nil
	}
	r := resty.New()
	r.SetTimeout(10 * time.Second)
	return &Telegram{token: token, chatID: chatID, rest: r}
}

// Notify sends one message. Errors are logged, not returned.
func (t *Telegram) Notify(text string) {
	if t == nil {
		return
	}
	go func() {
		url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)
		resp, err := t.rest.R().
			SetFormData(map[string]string{
				"chat_id": t.chatID,
				"text":    text,
			}).
			Post(url)
		if err != nil {
			log.Warn().Err(err).Msg("telegram alert failed")
			return
		}
		if resp.StatusCode() != 200 {
			log.Warn().Int("status", resp.StatusCode()).Str("body", resp.String()).Msg("telegram alert rejected")
		}
	}()
}

// RiskEventText formats a governor event for delivery.
func RiskEventText(ev risk.Event) string {
	return fmt.Sprintf("⚠️ %s at %s: loss %.2f (limit %.0f%%)",
		ev.Kind, ev.Ts.Format("2006-01-02 15:04 MST"), ev.Loss, ev.Limit*100)
}

// TradeText formats a closed trade for delivery.
func TradeText(symbol string, pnl float64, reason string) string {
	emoji := "🟢"
	if pnl < 0 {
		emoji = "🔴"
	}
	return fmt.Sprintf("%s %s closed (%s): PnL %.2f", emoji, symbol, reason, pnl)
}
