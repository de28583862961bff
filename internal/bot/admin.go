package bot

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"
	th "github.com/mymmrac/telego/telegohandler"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/Gothik99/botweb/internal/xui"
)

// Admin commands: manual renewal, subscription deletion, promo creation
// and service stats. All silently ignore non-admin senders.
func (b *Bot) registerAdminHandlers(handler *th.BotHandler) {

	// /renew <telegram_id> <days>: manual grant or extension.
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if !b.isAdmin(message.From.ID) {
			return nil
		}

		parts := strings.Fields(message.Text)
		if len(parts) != 3 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "Использование: /renew <telegram_id> <days>"))
			return nil
		}
		targetID, err1 := strconv.ParseInt(parts[1], 10, 64)
		days, err2 := strconv.Atoi(parts[2])
		if err1 != nil || err2 != nil || days <= 0 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "❌ Некорректные аргументы."))
			return nil
		}

		grant, err := b.Subs.Grant(ctx.Context(), targetID, days, false, 0)
		if err != nil {
			b.Log.Error().Err(err).Int64("target", targetID).Msg("admin renewal failed")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
				tu.ID(message.Chat.ID),
				fmt.Sprintf("❌ Не удалось продлить подписку %d: %v", targetID, err),
			))
			return nil
		}
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("✅ Подписка %d продлена на %d дн.\nДо: %s\n%s", targetID, days, grant.Expiry.Format("02.01.2006 15:04"), grant.Link),
		))
		return nil
	}, th.CommandEqual("renew"))

	// /delsub <telegram_id>: remove the panel credential and clear the
	// ledger record, keeping account history.
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if !b.isAdmin(message.From.ID) {
			return nil
		}

		parts := strings.Fields(message.Text)
		if len(parts) != 2 {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "Использование: /delsub <telegram_id>"))
			return nil
		}
		targetID, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil
		}

		user, err := b.Ledger.GetLatest(ctx.Context(), targetID)
		if err != nil || user == nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "🤷 Подписка не найдена."))
			return nil
		}

		if node, ok, nerr := b.Settings.Node(user.ServerID); nerr == nil && ok {
			// Deletion is idempotent; a credential already gone is fine.
			if _, derr := b.Gateway.Delete(ctx.Context(), node, xui.ByID(user.ClientUUID)); derr != nil {
				b.Log.Error().Err(derr).Int64("target", targetID).Msg("panel deletion failed, clearing ledger anyway")
			}
		}

		if err := b.Ledger.ClearCredential(ctx.Context(), targetID); err != nil {
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "❌ Ошибка при очистке записи."))
			return nil
		}
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("✅ Подписка пользователя %d удалена.", targetID),
		))
		return nil
	}, th.CommandEqual("delsub"))

	// /addpromo <days>: create a one-use promo code.
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if !b.isAdmin(message.From.ID) {
			return nil
		}

		days := b.Settings.GetInt("promo_code_subscription_days", 30)
		parts := strings.Fields(message.Text)
		if len(parts) == 2 {
			if n, err := strconv.Atoi(parts[1]); err == nil && n > 0 {
				days = n
			}
		}

		code := generatePromoCode()
		if err := b.Promos.Create(ctx.Context(), code, days); err != nil {
			b.Log.Error().Err(err).Msg("failed to create promo code")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "❌ Не удалось создать промокод."))
			return nil
		}
		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(
			tu.ID(message.Chat.ID),
			fmt.Sprintf("✅ Создан промокод на %d дн.:\n`%s`", days, code),
		).WithParseMode(telego.ModeMarkdown))
		return nil
	}, th.CommandEqual("addpromo"))

	// /stats: ledger aggregates plus per-node health.
	handler.Handle(func(ctx *th.Context, update telego.Update) error {
		message := update.Message
		if !b.isAdmin(message.From.ID) {
			return nil
		}

		stats, err := b.Ledger.CollectStats(ctx.Context())
		if err != nil {
			b.Log.Error().Err(err).Msg("failed to collect stats")
			_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), "❌ Не удалось собрать статистику."))
			return nil
		}

		var sb strings.Builder
		fmt.Fprintf(&sb, "📊 Статистика\n\n")
		fmt.Fprintf(&sb, "👥 Пользователей: %d\n", stats.TotalUsers)
		fmt.Fprintf(&sb, "✅ Активных подписок: %d\n", stats.ActiveSubs)
		fmt.Fprintf(&sb, "🎁 Пробных использовано: %d\n", stats.TrialsConsumed)
		fmt.Fprintf(&sb, "💳 Платежей: %d на %.2f₽\n", stats.Payments, stats.PaymentsTotal)

		nodes, err := b.Settings.Nodes()
		if err == nil {
			for _, node := range nodes {
				count, cerr := b.Gateway.CountActive(ctx.Context(), node)
				if cerr != nil {
					fmt.Fprintf(&sb, "\n🔴 %s: недоступен", node.Name)
					continue
				}
				fmt.Fprintf(&sb, "\n🟢 %s: %d активных клиентов", node.Name, count)
			}
		}

		_, _ = ctx.Bot().SendMessage(ctx.Context(), tu.Message(tu.ID(message.Chat.ID), sb.String()))
		return nil
	}, th.CommandEqual("stats"))
}
