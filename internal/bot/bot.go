package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"

	"github.com/google/uuid"

	"github.com/Gothik99/botweb/internal/models"
	"github.com/Gothik99/botweb/internal/payment"
	"github.com/Gothik99/botweb/internal/settings"
	"github.com/Gothik99/botweb/internal/store"
	"github.com/Gothik99/botweb/internal/subscription"
	"github.com/Gothik99/botweb/internal/xui"
)

type Bot struct {
	Instance      *telego.Bot
	Subs          *subscription.Service
	Gateway       *xui.Gateway
	Ledger        *store.Ledger
	Payments      *store.Payments
	Promos        *store.Promos
	Tariffs       *store.Tariffs
	PaymentClient *payment.Client
	Poller        *payment.Poller
	Handler       *payment.Handler
	Settings      *settings.Manager
	Admins        map[int64]bool
	UserStates    map[int64]string
	StatesMu      sync.RWMutex
	Log           zerolog.Logger
}

type Deps struct {
	Subs          *subscription.Service
	Gateway       *xui.Gateway
	Ledger        *store.Ledger
	Payments      *store.Payments
	Promos        *store.Promos
	Tariffs       *store.Tariffs
	PaymentClient *payment.Client
	Poller        *payment.Poller
	Handler       *payment.Handler
	Settings      *settings.Manager
	Admins        []int64
	Log           zerolog.Logger
}

func NewBot(token string, d Deps) (*Bot, error) {
	tgBot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	admins := make(map[int64]bool, len(d.Admins))
	for _, id := range d.Admins {
		admins[id] = true
	}

	return &Bot{
		Instance:      tgBot,
		Subs:          d.Subs,
		Gateway:       d.Gateway,
		Ledger:        d.Ledger,
		Payments:      d.Payments,
		Promos:        d.Promos,
		Tariffs:       d.Tariffs,
		PaymentClient: d.PaymentClient,
		Poller:        d.Poller,
		Handler:       d.Handler,
		Settings:      d.Settings,
		Admins:        admins,
		UserStates:    make(map[int64]string),
		Log:           d.Log,
	}, nil
}

func (b *Bot) mainKeyboard(trialAvailable bool) *telego.InlineKeyboardMarkup {
	rows := [][]telego.InlineKeyboardButton{}
	if trialAvailable {
		rows = append(rows, tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🎁 Попробовать бесплатно").WithCallbackData("claim_trial"),
		))
	}
	rows = append(rows,
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("ℹ️ Моя подписка").WithCallbackData("my_subscription"),
			tu.InlineKeyboardButton("🚀 Купить VPN").WithCallbackData("buy_vpn"),
		),
		tu.InlineKeyboardRow(
			tu.InlineKeyboardButton("🎟️ Промокод").WithCallbackData("enter_promo"),
			tu.InlineKeyboardButton("📖 Инструкция").WithCallbackData("instruction"),
		),
	)
	return tu.InlineKeyboard(rows...)
}

func (b *Bot) Start(runCtx context.Context) {
	updates, _ := b.Instance.UpdatesViaLongPolling(runCtx, nil)

	handler, _ := th.NewBotHandler(b.Instance, updates)

	// /start command
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		telegramID := message.From.ID

		if err := b.Ledger.EnsureUser(ctx.Context(), telegramID, message.From.Username); err != nil {
			b.Log.Error().Err(err).Int64("user", telegramID).Msg("failed to ensure user")
		}

		user, _ := b.Ledger.Get(ctx.Context(), telegramID)
		active, _ := b.Ledger.GetActive(ctx.Context(), telegramID)
		trialAvailable := user != nil && !user.IsTrialUsed && active == nil

		text := fmt.Sprintf(
			b.Settings.Get("text_welcome", "👋 Привет, %s!\n\n🚀 %s — ваш надежный проводник в мир безграничного интернета!"),
			message.From.FirstName, b.Settings.Get("project_name", "BotWeb VPN"),
		)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID), text,
		).WithReplyMarkup(b.mainKeyboard(trialAvailable)))
		return nil
	}, th.CommandEqual("start"))

	// Trial claim
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID
		defer func() { _ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID)) }()

		user, err := b.Ledger.Get(ctx.Context(), telegramID)
		if err != nil || user == nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Ошибка: пользователь не найден. Отправьте /start."))
			return nil
		}
		active, _ := b.Ledger.GetActive(ctx.Context(), telegramID)
		if user.IsTrialUsed || active != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(telegramID),
				b.Settings.Get("text_trial_already_used", "😔 Пробный период уже использован."),
			))
			return nil
		}

		trialDays := b.Settings.GetInt("trial_days", 3)
		trialLimit := b.Settings.GetInt("trial_limit_ip", 1)

		grant, err := b.Subs.Grant(ctx.Context(), telegramID, trialDays, true, trialLimit)
		if err != nil {
			b.Log.Error().Err(err).Int64("user", telegramID).Msg("trial grant failed")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(telegramID),
				b.Settings.Get("text_error_grant", "🚫 Не удалось активировать подписку. Попробуйте позже."),
			))
			return nil
		}

		text := fmt.Sprintf(
			b.Settings.Get("text_trial_success", "🎉 Ваш пробный VPN на %d дней успешно создан!\n\n🔗 Ваша ссылка для подключения:\n%s\n\nПодписка активна до: %s"),
			trialDays, grant.Link, grant.Expiry.Format("02.01.2006 15:04"),
		)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), text))
		return nil
	}, th.CallbackDataEqual("claim_trial"))

	// Subscription status
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID
		defer func() { _ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID)) }()

		active, err := b.Ledger.GetActive(ctx.Context(), telegramID)
		if err != nil || active == nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(telegramID),
				b.Settings.Get("text_no_active_subscription", "ℹ️ У вас нет активной подписки."),
			))
			return nil
		}

		link, err := b.Subs.ActiveLink(active)
		if err != nil {
			b.Log.Error().Err(err).Int64("user", telegramID).Msg("failed to build subscription link")
			link = "—"
		}
		text := fmt.Sprintf(
			b.Settings.Get("text_subscription_info", "ℹ️ Ваша подписка:\n\nАктивна до: %s\n\n🔗 Ссылка для подключения:\n%s"),
			active.SubscriptionEnd.Format("02.01.2006 15:04"), link,
		)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), text))
		return nil
	}, th.CallbackDataEqual("my_subscription"))

	// Tariff list
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID
		defer func() { _ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID)) }()

		tariffs, err := b.Tariffs.Active(ctx.Context())
		if err != nil || len(tariffs) == 0 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "⚙️ Тарифы временно недоступны."))
			return nil
		}

		rows := make([][]telego.InlineKeyboardButton, 0, len(tariffs))
		for _, t := range tariffs {
			label := fmt.Sprintf("💳 %s — %.0f %s", t.Name, t.Price, t.Currency)
			rows = append(rows, tu.InlineKeyboardRow(
				tu.InlineKeyboardButton(label).WithCallbackData(fmt.Sprintf("buy_tariff_%d", t.ID)),
			))
		}
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(telegramID), "📊 Выберите тариф:",
		).WithReplyMarkup(tu.InlineKeyboard(rows...)))
		return nil
	}, th.CallbackDataEqual("buy_vpn"))

	// Tariff purchase
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID
		defer func() { _ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID)) }()

		idStr := strings.TrimPrefix(callback.Data, "buy_tariff_")
		tariffID, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil
		}
		tariff, err := b.Tariffs.Get(ctx.Context(), uint(tariffID))
		if err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Тариф не найден."))
			return nil
		}

		metadata := map[string]string{
			"telegram_id": strconv.FormatInt(telegramID, 10),
			"days":        strconv.Itoa(tariff.Days),
			"limit_ip":    strconv.Itoa(0),
		}
		description := fmt.Sprintf("Подписка: %s (%d дней)", tariff.Name, tariff.Days)
		resp, err := b.PaymentClient.CreatePayment(
			fmt.Sprintf("%.2f", tariff.Price), tariff.Currency, description,
			"https://t.me/"+b.botUsername(ctx.Context()), metadata,
		)
		if err != nil {
			b.Log.Error().Err(err).Int64("user", telegramID).Msg("failed to create payment")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "❌ Ошибка при создании платежа."))
			return nil
		}

		if err := b.Payments.Create(ctx.Context(), &models.Payment{
			ID:         resp.ID,
			TelegramID: telegramID,
			Amount:     tariff.Price,
			Currency:   tariff.Currency,
			Status:     "pending",
			Metadata:   fmt.Sprintf(`{"days":%d}`, tariff.Days),
		}); err != nil {
			b.Log.Error().Err(err).Str("payment", resp.ID).Msg("failed to store pending payment")
		}

		b.Poller.Watch(runCtx, resp.ID, telegramID)

		keyboard := tu.InlineKeyboard(
			tu.InlineKeyboardRow(
				tu.InlineKeyboardButton("🔍 Проверить платеж").WithCallbackData("check_payment_"+resp.ID),
			),
		)
		text := fmt.Sprintf("💳 Для оплаты %d дней за %.0f %s перейдите по ссылке:\n%s\n\nПосле оплаты нажмите «Проверить платеж».",
			tariff.Days, tariff.Price, tariff.Currency, resp.Confirmation.ConfirmationURL)
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), text).WithReplyMarkup(keyboard))
		return nil
	}, th.CallbackDataPrefix("buy_tariff_"))

	// Manual payment check
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID
		defer func() { _ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID)) }()

		paymentID := strings.TrimPrefix(callback.Data, "check_payment_")
		info, err := b.PaymentClient.FindPayment(paymentID)
		if err != nil {
			b.Log.Error().Err(err).Str("payment", paymentID).Msg("payment lookup failed")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), "🤷 Платеж не найден. Убедитесь, что вы оплатили, и попробуйте снова."))
			return nil
		}

		switch info.Status {
		case "succeeded":
			if err := b.Handler.ProcessSucceeded(ctx.Context(), paymentID, info.Metadata); err != nil {
				b.Log.Error().Err(err).Str("payment", paymentID).Msg("failed to process succeeded payment")
				_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
					tu.ID(telegramID),
					b.Settings.Get("text_error_grant", "🚫 Не удалось активировать подписку. Попробуйте позже."),
				))
			}
		case "canceled":
			_ = b.Payments.UpdateStatus(ctx.Context(), paymentID, "canceled")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(telegramID),
				b.Settings.Get("text_payment_canceled", "❌ Оплата не удалась или была отменена."),
			))
		default:
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(telegramID),
				b.Settings.Get("text_payment_pending", "⏳ Платеж все еще ожидает подтверждения."),
			))
		}
		return nil
	}, th.CallbackDataPrefix("check_payment_"))

	// Promo code prompt
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		telegramID := update.CallbackQuery.From.ID

		b.StatesMu.Lock()
		b.UserStates[telegramID] = "WAITING_PROMO_CODE"
		b.StatesMu.Unlock()

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(telegramID),
			b.Settings.Get("text_promo_prompt", "Введите ваш промокод:"),
		))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(update.CallbackQuery.ID))
		return nil
	}, th.CallbackDataEqual("enter_promo"))

	// Instruction
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		callback := update.CallbackQuery
		telegramID := callback.From.ID

		msg := "📖 *Как подключиться:*\n\n" +
			"1. Получите ссылку через пробный период или покупку.\n" +
			"2. Скачайте приложение V2rayTun (Android/iOS).\n" +
			"3. Нажмите «+» и выберите «Импорт из буфера обмена».\n" +
			"4. Вставьте вашу ссылку и сохраните.\n" +
			"5. Включите VPN!"

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), msg).WithParseMode(telego.ModeMarkdown))
		_ = ctx.Bot().AnswerCallbackQuery(ctx.Context(), tu.CallbackQuery(callback.ID))
		return nil
	}, th.CallbackDataEqual("instruction"))

	b.registerAdminHandlers(handler)

	// Text input (promo code redemption)
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		telegramID := update.Message.From.ID
		text := strings.TrimSpace(update.Message.Text)

		b.StatesMu.RLock()
		state, ok := b.UserStates[telegramID]
		b.StatesMu.RUnlock()

		if !ok || state != "WAITING_PROMO_CODE" {
			return nil // Pass to next handler if any
		}

		b.StatesMu.Lock()
		delete(b.UserStates, telegramID)
		b.StatesMu.Unlock()

		b.redeemPromo(ctx, telegramID, text)
		return nil
	}, th.AnyMessageWithText())

	handler.Start()
}

func (b *Bot) redeemPromo(ctx *th.Context, telegramID int64, code string) {
	promo, err := b.Promos.Get(ctx.Context(), code)
	if err != nil || promo == nil {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(telegramID),
			b.Settings.Get("text_promo_invalid", "❌ Такой промокод не найден."),
		))
		return
	}
	if !promo.IsActive {
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(telegramID),
			b.Settings.Get("text_promo_used", "❌ Этот промокод уже был использован."),
		))
		return
	}

	days := promo.Days
	if days <= 0 {
		days = b.Settings.GetInt("promo_code_subscription_days", 30)
	}

	grant, err := b.Subs.Grant(ctx.Context(), telegramID, days, false, 0)
	if err != nil {
		b.Log.Error().Err(err).Int64("user", telegramID).Str("code", code).Msg("promo grant failed")
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(telegramID),
			b.Settings.Get("text_error_grant", "🚫 Не удалось активировать подписку. Попробуйте позже."),
		))
		return
	}

	consumed, err := b.Promos.Consume(ctx.Context(), code, telegramID)
	if err != nil || !consumed {
		// Grant already applied; the code lost a race or the write failed.
		b.Log.Error().Err(err).Str("code", code).Msg("promo code consumption failed after grant")
	}

	text := fmt.Sprintf(
		b.Settings.Get("text_promo_success", "✅ Промокод %s активирован!\n\nПодписка продлена на %d дней.\nНовая дата окончания: %s"),
		code, days, grant.Expiry.Format("02.01.2006 15:04"),
	)
	_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(telegramID), text))
}

func (b *Bot) botUsername(ctx context.Context) string {
	if info, err := b.Instance.GetMe(ctx); err == nil {
		return info.Username
	}
	return "botweb_vpn_bot"
}

func (b *Bot) isAdmin(id int64) bool {
	return b.Admins[id]
}

// generatePromoCode returns a short random uppercase code.
func generatePromoCode() string {
	return strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", "")[:10])
}
