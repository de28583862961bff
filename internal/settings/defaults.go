package settings

import (
	"github.com/Gothik99/botweb/internal/models"
)

// Defaults are seeded on first start and then edited through the settings
// table. Variables in texts are substituted with fmt.Sprintf at call sites.
var Defaults = map[string]models.Setting{
	"project_name": {Value: "BotWeb VPN", Description: "Display name of the service"},
	"email_domain": {Value: "vpn.bot", Description: "Domain used for generated client aliases"},
	"trial_days":   {Value: "3", Description: "Trial subscription length in days"},
	"trial_limit_ip": {Value: "1", Description: "Device limit for trial subscriptions"},
	"promo_code_subscription_days": {Value: "30", Description: "Days granted by a promo code without its own day count"},
	NodesKey: {Value: "[]", Description: "Panel node list as a JSON array"},

	"text_welcome": {
		Value:       "👋 Привет, %s!\n\n🚀 %s — ваш надежный проводник в мир безграничного интернета!",
		Description: "Welcome message: user name, project name",
	},
	"text_trial_success": {
		Value:       "🎉 Ваш пробный VPN на %d дней успешно создан!\n\n🔗 Ваша ссылка для подключения:\n%s\n\nПодписка активна до: %s",
		Description: "Trial granted: days, link, expiry",
	},
	"text_trial_already_used": {
		Value:       "😔 Пробный период уже использован. Продлите подписку по кнопке ниже ⬇️",
		Description: "Trial already consumed",
	},
	"text_subscription_info": {
		Value:       "ℹ️ Ваша подписка:\n\nАктивна до: %s\n\n🔗 Ссылка для подключения:\n%s",
		Description: "Active subscription info: expiry, link",
	},
	"text_no_active_subscription": {
		Value:       "ℹ️ У вас нет активной подписки.",
		Description: "No active subscription",
	},
	"text_payment_success": {
		Value:       "✅ Оплата прошла успешно!\n\nПодписка продлена на %d дней.\nНовая дата окончания: %s\n\nСсылка для подключения:\n%s",
		Description: "Payment succeeded: days, expiry, link",
	},
	"text_payment_pending": {
		Value:       "⏳ Платеж все еще ожидает подтверждения. Попробуйте проверить позже.",
		Description: "Payment still pending",
	},
	"text_payment_canceled": {
		Value:       "❌ Оплата не удалась или была отменена. Попробуйте снова или обратитесь в поддержку.",
		Description: "Payment canceled",
	},
	"text_promo_prompt": {
		Value:       "Введите ваш промокод:",
		Description: "Promo code prompt",
	},
	"text_promo_success": {
		Value:       "✅ Промокод %s активирован!\n\nПодписка продлена на %d дней.\nНовая дата окончания: %s",
		Description: "Promo activated: code, days, expiry",
	},
	"text_promo_invalid": {
		Value:       "❌ Такой промокод не найден. Проверьте правильность ввода.",
		Description: "Unknown promo code",
	},
	"text_promo_used": {
		Value:       "❌ Этот промокод уже был использован.",
		Description: "Promo code consumed",
	},
	"text_error_grant": {
		Value:       "🚫 Не удалось активировать подписку. Попробуйте позже или обратитесь в поддержку.",
		Description: "Grant failed",
	},
	"text_subscription_expiring": {
		Value:       "⏰ Ваша подписка заканчивается завтра! Не забудьте продлить, чтобы не потерять доступ.",
		Description: "24h expiry warning",
	},
	"text_subscription_expired": {
		Value:       "😔 Ваша подписка истекла. Чтобы возобновить доступ, пожалуйста, продлите её.",
		Description: "Expired notification",
	},
}
