// Package notify implements the optional Telegram push observer SPEC_FULL.md
// §12 adds: it watches the event log for buy/sell/warn/error entries and forwards
// them as chat messages. Grounded on the teacher's internal/bot/telegram.go
// (sendMarkdown/sendTradeAlert shape), trimmed to push-only — no command
// listener, no trade callback wiring into the engine, since this observer
// never drives the bot, only reports on it.
package notify

import (
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"github.com/polyspike/bot/internal/eventlog"
)

// Telegram is a disabled-by-default push notifier. Zero value (nil *Telegram)
// is valid and a no-op, so callers can wire it unconditionally.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// New connects to the Telegram bot API. Returns (nil, nil) if token is
// empty, so callers can always construct one and just check for nil.
func New(token string, chatID int64) (*Telegram, error) {
	if token == "" {
		return nil, nil
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("notify: connect telegram: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("telegram notifier connected")
	return &Telegram{api: api, chatID: chatID}, nil
}

// Startup sends a one-line online notice.
func (t *Telegram) Startup(assetTag string) {
	if t == nil {
		return
	}
	t.send(fmt.Sprintf("🟢 *polyspike online*\n\ntracking %s rolling windows.", assetTag))
}

// Event forwards one event-log entry as a chat message, for buy/sell/warn/error
// kinds only — info/signal entries are too frequent to push.
func (t *Telegram) Event(e eventlog.Entry) {
	if t == nil {
		return
	}
	switch e.Kind {
	case eventlog.KindBuy:
		t.send(fmt.Sprintf("🟢 *buy*\n\n%s", escape(e.Message)))
	case eventlog.KindSell:
		t.send(fmt.Sprintf("💰 *closed*\n\n%s", escape(e.Message)))
	case eventlog.KindWarn:
		t.send(fmt.Sprintf("⚠️ *warning*\n\n%s", escape(e.Message)))
	case eventlog.KindError:
		t.send(fmt.Sprintf("🔴 *error*\n\n%s", escape(e.Message)))
	}
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	msg.DisableWebPagePreview = true
	if _, err := t.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("telegram send failed")
	}
}

func escape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '_', '*', '`', '[':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}

// Watch drains new event-log entries on a tail cursor (the timestamp of the
// last entry forwarded) and forwards them.
// Run as its own goroutine; stops when stop is closed.
func Watch(t *Telegram, events *eventlog.Log, stop <-chan struct{}) {
	if t == nil {
		return
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var last time.Time
	if snap := events.Snapshot(); len(snap) > 0 {
		last = snap[len(snap)-1].T
	}
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, e := range events.Snapshot() {
				if e.T.After(last) {
					t.Event(e)
					last = e.T
				}
			}
		}
	}
}
