package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"github.com/Gothik99/botweb/internal/models"
	"github.com/Gothik99/botweb/internal/settings"
	"github.com/Gothik99/botweb/internal/subscription"
	"github.com/Gothik99/botweb/internal/utils"
)

// PaymentStore is the slice of the payment store the handler needs.
type PaymentStore interface {
	Get(ctx context.Context, id string) (*models.Payment, error)
	Claim(ctx context.Context, id string) (bool, error)
	UpdateStatus(ctx context.Context, id, status string) error
}

// Granter applies a subscription grant after a resolved payment.
type Granter interface {
	Grant(ctx context.Context, telegramID int64, daysToAdd int, isTrial bool, limitIP int) (*subscription.Grant, error)
}

// Handler resolves provider notifications into grants. It is shared by the
// webhook endpoint, the background poller and the manual check button; all
// three funnel through ProcessSucceeded, which claims the payment row
// before granting so concurrent resolvers cannot double-grant.
type Handler struct {
	Payments PaymentStore
	Subs     Granter
	Settings *settings.Manager
	Bot      *telego.Bot
	AllowIPs []string
	Log      zerolog.Logger
}

func NewHandler(payments PaymentStore, subs Granter, st *settings.Manager, bot *telego.Bot, allowIPs []string, logger zerolog.Logger) *Handler {
	return &Handler{
		Payments: payments,
		Subs:     subs,
		Settings: st,
		Bot:      bot,
		AllowIPs: allowIPs,
		Log:      logger,
	}
}

func (h *Handler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		ip = r.RemoteAddr
	}
	if !utils.IsAllowedIP(ip, h.AllowIPs) {
		h.Log.Warn().Str("ip", ip).Msg("webhook from unlisted address rejected")
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	var notification WebhookNotification
	if err := json.NewDecoder(r.Body).Decode(&notification); err != nil {
		h.Log.Error().Err(err).Msg("failed to decode webhook")
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}

	switch notification.Event {
	case "payment.succeeded":
		if err := h.ProcessSucceeded(r.Context(), notification.Object.ID, notification.Object.Metadata); err != nil {
			h.Log.Error().Err(err).Str("payment", notification.Object.ID).Msg("failed to process payment success")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
	case "payment.canceled":
		if err := h.Payments.UpdateStatus(r.Context(), notification.Object.ID, "canceled"); err != nil {
			h.Log.Error().Err(err).Str("payment", notification.Object.ID).Msg("failed to mark payment canceled")
		}
	default:
		h.Log.Debug().Str("event", notification.Event).Msg("ignored webhook event")
	}

	w.WriteHeader(http.StatusOK)
}

// ProcessSucceeded claims the payment row and triggers the grant described
// by the payment metadata. The claim flips pending to succeeded in one
// statement, so of any concurrent resolvers exactly one proceeds to Grant;
// a lost claim means the payment is already handled (or unknown) and is a
// no-op. A failed grant releases the claim so a later resolver can retry.
func (h *Handler) ProcessSucceeded(ctx context.Context, paymentID string, metadata map[string]string) error {
	claimed, err := h.Payments.Claim(ctx, paymentID)
	if err != nil {
		return err
	}
	if !claimed {
		h.Log.Debug().Str("payment", paymentID).Msg("payment already claimed or unknown")
		return nil
	}

	telegramID, err := strconv.ParseInt(metadata["telegram_id"], 10, 64)
	if err != nil {
		return fmt.Errorf("payment %s metadata missing telegram_id: %w", paymentID, err)
	}
	days, err := strconv.Atoi(metadata["days"])
	if err != nil || days <= 0 {
		return fmt.Errorf("payment %s metadata has invalid days %q", paymentID, metadata["days"])
	}
	limitIP, _ := strconv.Atoi(metadata["limit_ip"])

	grant, err := h.Subs.Grant(ctx, telegramID, days, false, limitIP)
	if err != nil {
		if rerr := h.Payments.UpdateStatus(ctx, paymentID, "pending"); rerr != nil {
			h.Log.Error().Err(rerr).Str("payment", paymentID).Msg("failed to release payment claim")
		}
		return fmt.Errorf("grant after payment %s failed: %w", paymentID, err)
	}

	if h.Bot != nil {
		text := fmt.Sprintf(
			h.Settings.Get("text_payment_success", "✅ Оплата прошла успешно!\n\nПодписка продлена на %d дней.\nНовая дата окончания: %s\n\nСсылка для подключения:\n%s"),
			days, grant.Expiry.Format("02.01.2006 15:04"), grant.Link,
		)
		_, _ = h.Bot.SendMessage(ctx, tu.Message(tu.ID(telegramID), text))
	}

	h.Log.Info().Str("payment", paymentID).Int64("user", telegramID).Int("days", days).Msg("payment resolved into grant")
	return nil
}
