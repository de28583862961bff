package payment

import (
	"context"
	"time"

	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const (
	pollWindow   = 5 * time.Minute
	pollInterval = 30 * time.Second
)

// Poller resolves one pending payment by asking the provider until it
// settles or the window closes. A redis guard keeps concurrent pollers for
// the same payment from piling up across restarts of the purchase flow.
type Poller struct {
	Client  *Client
	Handler *Handler
	Redis   *redis.Client
	Log     zerolog.Logger
}

func NewPoller(client *Client, handler *Handler, rdb *redis.Client, logger zerolog.Logger) *Poller {
	return &Poller{Client: client, Handler: handler, Redis: rdb, Log: logger}
}

// Watch polls the payment in the background. Safe to call speculatively;
// duplicate watches for the same payment id are dropped.
func (p *Poller) Watch(ctx context.Context, paymentID string, telegramID int64) {
	guard := "payment_watch_" + paymentID
	ok, err := p.Redis.SetNX(ctx, guard, "1", pollWindow).Result()
	if err != nil {
		p.Log.Error().Err(err).Str("payment", paymentID).Msg("failed to set poll guard, watching anyway")
	} else if !ok {
		p.Log.Debug().Str("payment", paymentID).Msg("payment already being watched")
		return
	}

	go p.run(ctx, paymentID, telegramID, guard)
}

func (p *Poller) run(ctx context.Context, paymentID string, telegramID int64, guard string) {
	defer p.Redis.Del(context.Background(), guard)

	deadline := time.Now().Add(pollWindow)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if time.Now().After(deadline) {
			p.Log.Warn().Str("payment", paymentID).Msg("payment poll window closed, still pending")
			return
		}

		stored, err := p.Handler.Payments.Get(ctx, paymentID)
		if err != nil {
			p.Log.Error().Err(err).Str("payment", paymentID).Msg("failed to read stored payment")
			continue
		}
		if stored == nil || stored.Status != "pending" {
			// Webhook got there first.
			return
		}

		info, err := p.Client.FindPayment(paymentID)
		if err != nil {
			p.Log.Error().Err(err).Str("payment", paymentID).Msg("provider lookup failed")
			continue
		}

		switch info.Status {
		case "succeeded":
			if err := p.Handler.ProcessSucceeded(ctx, paymentID, info.Metadata); err != nil {
				p.Log.Error().Err(err).Str("payment", paymentID).Msg("failed to process succeeded payment")
			}
			return
		case "canceled":
			if err := p.Handler.Payments.UpdateStatus(ctx, paymentID, "canceled"); err != nil {
				p.Log.Error().Err(err).Str("payment", paymentID).Msg("failed to mark payment canceled")
			}
			if p.Handler.Bot != nil {
				text := p.Handler.Settings.Get("text_payment_canceled", "❌ Оплата не удалась или была отменена.")
				_, _ = p.Handler.Bot.SendMessage(ctx, tu.Message(tu.ID(telegramID), text))
			}
			return
		}
	}
}
