package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Gothik99/botweb/internal/settings"
	"github.com/Gothik99/botweb/internal/store"
)

// Checker runs the expiry sweeps. It reads the ledger and writes only the
// two notification flags plus the unreachable marker; credential fields are
// never touched from here.
type Checker struct {
	Ledger   *store.Ledger
	Redis    *redis.Client
	Settings *settings.Manager
	Bot      *telego.Bot
	Log      zerolog.Logger
}

func NewChecker(ledger *store.Ledger, rdb *redis.Client, st *settings.Manager, bot *telego.Bot, logger zerolog.Logger) *Checker {
	return &Checker{
		Ledger:   ledger,
		Redis:    rdb,
		Settings: st,
		Bot:      bot,
		Log:      logger,
	}
}

// Start blocks, running the 24h-warning sweep hourly and the expired sweep
// every minute, until the context is canceled.
func (c *Checker) Start(ctx context.Context) {
	c.Log.Info().Msg("background subscription worker started")

	expiring := time.NewTicker(1 * time.Hour)
	expired := time.NewTicker(1 * time.Minute)
	defer expiring.Stop()
	defer expired.Stop()

	c.sweepExpiring(ctx)
	c.sweepExpired(ctx)

	for {
		select {
		case <-ctx.Done():
			c.Log.Info().Msg("background subscription worker stopped")
			return
		case <-expiring.C:
			c.sweepExpiring(ctx)
		case <-expired.C:
			c.sweepExpired(ctx)
		}
	}
}

// sweepExpiring warns users whose subscription ends within the next 23-25
// hours and have not been warned since their last extension.
func (c *Checker) sweepExpiring(ctx context.Context) {
	now := time.Now()
	users, err := c.Ledger.ExpiringBetween(ctx, now.Add(23*time.Hour), now.Add(25*time.Hour))
	if err != nil {
		c.Log.Error().Err(err).Msg("expiring sweep query failed")
		return
	}

	text := c.Settings.Get("text_subscription_expiring",
		"⏰ Ваша подписка заканчивается завтра! Не забудьте продлить, чтобы не потерять доступ.")

	for _, user := range users {
		key := fmt.Sprintf("notified_expiring_%d", user.TelegramID)
		if exists, _ := c.Redis.Exists(ctx, key).Result(); exists > 0 {
			continue
		}
		if !c.send(ctx, user.TelegramID, text) {
			continue
		}
		c.Redis.Set(ctx, key, "1", 48*time.Hour)
		if err := c.Ledger.SetNotified(ctx, user.TelegramID, "notified_expiring"); err != nil {
			c.Log.Error().Err(err).Int64("user", user.TelegramID).Msg("failed to persist expiring flag")
		}
		c.Log.Info().Int64("user", user.TelegramID).Msg("sent 24h expiry warning")
	}
}

// sweepExpired notifies users whose subscription already ended.
func (c *Checker) sweepExpired(ctx context.Context) {
	users, err := c.Ledger.ExpiredUnnotified(ctx, time.Now())
	if err != nil {
		c.Log.Error().Err(err).Msg("expired sweep query failed")
		return
	}

	text := c.Settings.Get("text_subscription_expired",
		"😔 Ваша подписка истекла. Чтобы возобновить доступ, пожалуйста, продлите её.")

	for _, user := range users {
		if !c.send(ctx, user.TelegramID, text) {
			continue
		}
		if err := c.Ledger.SetNotified(ctx, user.TelegramID, "notified_expired"); err != nil {
			c.Log.Error().Err(err).Int64("user", user.TelegramID).Msg("failed to persist expired flag")
		}
		c.Log.Info().Int64("user", user.TelegramID).Msg("sent expiry notification")
	}
}

// send delivers one notice; a permanently unreachable chat deactivates the
// user so future sweeps and broadcasts skip them.
func (c *Checker) send(ctx context.Context, telegramID int64, text string) bool {
	_, err := c.Bot.SendMessage(ctx, tu.Message(tu.ID(telegramID), text))
	if err == nil {
		return true
	}
	if isUnreachable(err) {
		c.Log.Warn().Int64("user", telegramID).Msg("user unreachable, deactivating")
		if derr := c.Ledger.MarkUnreachable(ctx, telegramID); derr != nil {
			c.Log.Error().Err(derr).Int64("user", telegramID).Msg("failed to deactivate user")
		}
	} else {
		c.Log.Error().Err(err).Int64("user", telegramID).Msg("failed to send notification")
	}
	return false
}

func isUnreachable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "chat not found") ||
		strings.Contains(msg, "bot was blocked") ||
		strings.Contains(msg, "user is deactivated")
}
