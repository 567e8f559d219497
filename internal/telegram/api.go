// Package telegram connects the bridge to a Telegram bot: it delivers
// terminal output to chats and turns commands, button presses and plain
// messages into pane input.
package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/asheshgoplani/termbot/internal/logging"
	"github.com/asheshgoplani/termbot/internal/retry"
)

var tgLog = logging.ForComponent(logging.CompTelegram)

// API is the subset of *tgbotapi.BotAPI used here.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(cfg tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

var _ API = (*tgbotapi.BotAPI)(nil)

// Dial logs in with token, retrying transient failures under policy.
// The client library's own logging is routed into the telegram component.
func Dial(ctx context.Context, token string, policy retry.Policy) (*tgbotapi.BotAPI, error) {
	if err := tgbotapi.SetLogger(logging.NewPrintfLogger(logging.CompTelegram)); err != nil {
		tgLog.Warn("telegram_logger_setup_failed", "error", err)
	}

	var api *tgbotapi.BotAPI
	err := policy.Do(ctx, "telegram_login", func(ctx context.Context) error {
		a, err := tgbotapi.NewBotAPI(token)
		if err != nil {
			if retry.IsTransient(err) {
				return err
			}
			return retry.Permanent(err)
		}
		api = a
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	tgLog.Info("telegram_logged_in", "bot", api.Self.UserName)
	return api, nil
}
