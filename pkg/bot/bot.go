// Package bot is the chat command entrypoint. It long-polls Telegram for
// /start and hands each accepted command to the orchestrator.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/entrhq/portalcap/pkg/logging"
	"github.com/entrhq/portalcap/pkg/notify"
	"github.com/entrhq/portalcap/pkg/orchestrator"
)

const (
	// StartCommand is the only command the bot acts on.
	StartCommand = "/start"

	ReplyStarted = "Bot iniciado. Procesando..."
	ReplyBusy    = "El proceso ya esta en ejecucion. Esperando a que termine."

	defaultPollTimeout  = 30 * time.Second
	defaultErrorBackoff = 5 * time.Second
)

// API is the part of the Telegram client the bot needs.
type API interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]notify.Update, error)
	Reply(ctx context.Context, chatID int64, text string) error
}

// Runner starts a run unless one is already active.
type Runner interface {
	TryStart(ctx context.Context, onStart func()) (*orchestrator.Summary, bool)
}

// Config tunes the poll loop.
type Config struct {
	// ChatID is the configured destination chat
	ChatID string

	// AllowedChatOnly ignores commands from any other chat
	AllowedChatOnly bool

	// BotName, when set, is accepted in /start@BotName
	BotName string

	PollTimeout  time.Duration
	ErrorBackoff time.Duration
}

// Bot polls for commands. Runs execute on the poll goroutine, so updates
// that arrive during a run are read only after it finishes.
type Bot struct {
	api    API
	runner Runner
	cfg    Config
	logger *logging.Logger

	offset int64
}

// New creates a bot.
func New(api API, runner Runner, cfg Config, logger *logging.Logger) *Bot {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = defaultPollTimeout
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = defaultErrorBackoff
	}
	return &Bot{
		api:    api,
		runner: runner,
		cfg:    cfg,
		logger: logger,
	}
}

// Run polls until ctx is canceled and returns ctx.Err().
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Infof("polling for %s commands", StartCommand)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := b.api.GetUpdates(ctx, b.offset, b.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Warnf("getUpdates failed, retrying in %s: %v", b.cfg.ErrorBackoff, err)
			if !sleep(ctx, b.cfg.ErrorBackoff) {
				return ctx.Err()
			}
			continue
		}

		for _, update := range updates {
			b.offset = update.UpdateID + 1
			if update.Message != nil {
				b.handle(ctx, update.Message)
			}
		}
	}
}

func (b *Bot) handle(ctx context.Context, msg *notify.Message) {
	if !IsStartCommand(msg.Text, b.cfg.BotName) {
		return
	}

	chatID := msg.Chat.ID
	if b.cfg.AllowedChatOnly && fmt.Sprint(chatID) != b.cfg.ChatID {
		b.logger.Warnf("ignoring %s from chat %d", StartCommand, chatID)
		return
	}

	b.logger.Infof("%s from chat %d", StartCommand, chatID)
	_, started := b.runner.TryStart(ctx, func() {
		b.reply(ctx, chatID, ReplyStarted)
	})
	if !started {
		b.reply(ctx, chatID, ReplyBusy)
	}
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if err := b.api.Reply(ctx, chatID, text); err != nil && !errors.Is(err, context.Canceled) {
		b.logger.Errorf("failed to reply to chat %d: %v", chatID, err)
	}
}

// IsStartCommand reports whether text is /start, optionally addressed as
// /start@botName and followed by a payload.
func IsStartCommand(text, botName string) bool {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return false
	}

	command, target, addressed := strings.Cut(fields[0], "@")
	if command != StartCommand {
		return false
	}
	if !addressed || botName == "" {
		return true
	}
	return strings.EqualFold(target, strings.TrimPrefix(botName, "@"))
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
