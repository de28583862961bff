package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/Gothik99/botweb/internal/models"
)

// Ledger is the local source of truth for who holds which panel credential
// on which node until when. Every write path that touches one of the four
// credential fields (uuid, alias, expiry, node) writes all four in a single
// statement so the record can never be partially populated.
type Ledger struct {
	db  *gorm.DB
	log zerolog.Logger
}

func NewLedger(db *gorm.DB, logger zerolog.Logger) *Ledger {
	return &Ledger{db: db, log: logger}
}

// GrantRecord is the full credential assignment written after a successful
// panel mutation.
type GrantRecord struct {
	TelegramID  int64
	ClientUUID  string
	ClientEmail string
	NodeID      int
	Expiry      time.Time
	LimitIP     int
	IsTrial     bool
}

// EnsureUser creates an empty record on first contact.
func (l *Ledger) EnsureUser(ctx context.Context, telegramID int64, username string) error {
	user := models.User{TelegramID: telegramID, Username: username}
	if err := l.db.WithContext(ctx).Where(models.User{TelegramID: telegramID}).FirstOrCreate(&user).Error; err != nil {
		return fmt.Errorf("failed to ensure user %d: %w", telegramID, err)
	}
	if username != "" && user.Username != username {
		l.db.WithContext(ctx).Model(&models.User{}).Where("telegram_id = ?", telegramID).Update("username", username)
	}
	return nil
}

// Get returns the raw record, or nil when the user is unknown.
func (l *Ledger) Get(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := l.db.WithContext(ctx).Where("telegram_id = ?", telegramID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", telegramID, err)
	}
	return &user, nil
}

// GetActive returns the record only when a credential is assigned and its
// expiry is strictly in the future. Stale credential fields alone do not
// qualify.
func (l *Ledger) GetActive(ctx context.Context, telegramID int64) (*models.User, error) {
	user, err := l.Get(ctx, telegramID)
	if err != nil || user == nil {
		return nil, err
	}
	if !user.HasCredential() {
		return nil, nil
	}
	if !user.SubscriptionEnd.After(time.Now()) {
		return nil, nil
	}
	return user, nil
}

// GetLatest returns the record with a non-empty credential id regardless of
// expiry; used to find the node and credential to renew past expiry.
func (l *Ledger) GetLatest(ctx context.Context, telegramID int64) (*models.User, error) {
	var user models.User
	err := l.db.WithContext(ctx).
		Where("telegram_id = ? AND client_uuid <> ''", telegramID).
		First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest subscription for %d: %w", telegramID, err)
	}
	return &user, nil
}

// UpsertGrant writes all credential fields in one statement, marks the
// trial consumed when requested (never the other way) and clears both
// notification flags: an extension invalidates a previously sent warning.
func (l *Ledger) UpsertGrant(ctx context.Context, rec GrantRecord) error {
	if err := l.EnsureUser(ctx, rec.TelegramID, ""); err != nil {
		return err
	}

	expiry := rec.Expiry.UTC()
	updates := map[string]interface{}{
		"client_uuid":       rec.ClientUUID,
		"client_email":      rec.ClientEmail,
		"subscription_end":  expiry,
		"server_id":         rec.NodeID,
		"limit_ip":          rec.LimitIP,
		"is_trial_used":     gorm.Expr("is_trial_used OR ?", rec.IsTrial),
		"notified_expiring": false,
		"notified_expired":  false,
	}
	err := l.db.WithContext(ctx).Model(&models.User{}).
		Where("telegram_id = ?", rec.TelegramID).
		Updates(updates).Error
	if err != nil {
		return fmt.Errorf("failed to upsert grant for %d: %w", rec.TelegramID, err)
	}
	l.log.Info().Int64("user", rec.TelegramID).Str("uuid", rec.ClientUUID).
		Int("node", rec.NodeID).Time("expiry", expiry).Msg("subscription recorded")
	return nil
}

// ClearCredential nulls the four credential fields, keeping the trial and
// notification flags so account history survives credential deletion.
func (l *Ledger) ClearCredential(ctx context.Context, telegramID int64) error {
	err := l.db.WithContext(ctx).Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Updates(map[string]interface{}{
			"client_uuid":      "",
			"client_email":     "",
			"subscription_end": nil,
			"server_id":        0,
		}).Error
	if err != nil {
		return fmt.Errorf("failed to clear credential for %d: %w", telegramID, err)
	}
	l.log.Info().Int64("user", telegramID).Msg("credential fields cleared")
	return nil
}

// MarkUnreachable excludes the user from future broadcasts after a
// permanent delivery failure; the subscription itself stays intact.
func (l *Ledger) MarkUnreachable(ctx context.Context, telegramID int64) error {
	err := l.db.WithContext(ctx).Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update("is_active", false).Error
	if err != nil {
		return fmt.Errorf("failed to deactivate user %d: %w", telegramID, err)
	}
	l.log.Warn().Int64("user", telegramID).Msg("user marked unreachable")
	return nil
}

// CountActiveOnNode counts billed subscriptions pinned to the node with a
// future expiry; the capacity signal for server selection.
func (l *Ledger) CountActiveOnNode(ctx context.Context, nodeID int) (int64, error) {
	var count int64
	err := l.db.WithContext(ctx).Model(&models.User{}).
		Where("server_id = ? AND client_uuid <> '' AND subscription_end > ?", nodeID, time.Now()).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active subscriptions on node %d: %w", nodeID, err)
	}
	return count, nil
}

// ExpiringBetween lists users whose subscription ends inside the window and
// who have not been warned yet.
func (l *Ledger) ExpiringBetween(ctx context.Context, from, to time.Time) ([]models.User, error) {
	var users []models.User
	err := l.db.WithContext(ctx).
		Where("subscription_end BETWEEN ? AND ? AND client_uuid <> '' AND is_active AND NOT notified_expiring", from, to).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring subscriptions: %w", err)
	}
	return users, nil
}

// ExpiredUnnotified lists users whose subscription already ended and who
// have not received the expiry notice.
func (l *Ledger) ExpiredUnnotified(ctx context.Context, now time.Time) ([]models.User, error) {
	var users []models.User
	err := l.db.WithContext(ctx).
		Where("subscription_end < ? AND client_uuid <> '' AND is_active AND NOT notified_expired", now).
		Find(&users).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query expired subscriptions: %w", err)
	}
	return users, nil
}

// SetNotified records that one of the two sweep notices went out. The
// sweeps only ever touch these flags and is_active, never the credential
// fields.
func (l *Ledger) SetNotified(ctx context.Context, telegramID int64, column string) error {
	if column != "notified_expiring" && column != "notified_expired" {
		return fmt.Errorf("unknown notification column %q", column)
	}
	err := l.db.WithContext(ctx).Model(&models.User{}).
		Where("telegram_id = ?", telegramID).
		Update(column, true).Error
	if err != nil {
		return fmt.Errorf("failed to set %s for %d: %w", column, telegramID, err)
	}
	return nil
}

// Stats is the aggregate snapshot for the admin /stats command.
type Stats struct {
	TotalUsers     int64
	ActiveSubs     int64
	TrialsConsumed int64
	Payments       int64
	PaymentsTotal  float64
}

func (l *Ledger) CollectStats(ctx context.Context) (*Stats, error) {
	db := l.db.WithContext(ctx)
	var s Stats
	if err := db.Model(&models.User{}).Count(&s.TotalUsers).Error; err != nil {
		return nil, fmt.Errorf("failed to count users: %w", err)
	}
	if err := db.Model(&models.User{}).
		Where("client_uuid <> '' AND subscription_end > ?", time.Now()).
		Count(&s.ActiveSubs).Error; err != nil {
		return nil, fmt.Errorf("failed to count active subscriptions: %w", err)
	}
	if err := db.Model(&models.User{}).Where("is_trial_used").Count(&s.TrialsConsumed).Error; err != nil {
		return nil, fmt.Errorf("failed to count trials: %w", err)
	}
	if err := db.Model(&models.Payment{}).Where("status = ?", "succeeded").Count(&s.Payments).Error; err != nil {
		return nil, fmt.Errorf("failed to count payments: %w", err)
	}
	if err := db.Model(&models.Payment{}).Where("status = ?", "succeeded").
		Select("COALESCE(SUM(amount), 0)").Scan(&s.PaymentsTotal).Error; err != nil {
		return nil, fmt.Errorf("failed to sum payments: %w", err)
	}
	return &s, nil
}
