package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/Gothik99/botweb/internal/models"
)

// Payments persists the provider-side payment lifecycle. The engine never
// interprets provider state beyond pending/succeeded/canceled.
type Payments struct {
	db *gorm.DB
}

func NewPayments(db *gorm.DB) *Payments {
	return &Payments{db: db}
}

func (p *Payments) Create(ctx context.Context, payment *models.Payment) error {
	if err := p.db.WithContext(ctx).Create(payment).Error; err != nil {
		return fmt.Errorf("failed to record payment %s: %w", payment.ID, err)
	}
	return nil
}

func (p *Payments) Get(ctx context.Context, id string) (*models.Payment, error) {
	var payment models.Payment
	err := p.db.WithContext(ctx).Where("id = ?", id).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payment %s: %w", id, err)
	}
	return &payment, nil
}

// Claim flips a pending payment to succeeded in one statement. The WHERE
// clause on the status makes the claim single-winner: of any concurrent
// resolvers (webhook delivery, poller tick, manual check) only the one
// whose update hits the pending row gets true.
func (p *Payments) Claim(ctx context.Context, id string) (bool, error) {
	res := p.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status = ?", id, "pending").
		Update("status", "succeeded")
	if res.Error != nil {
		return false, fmt.Errorf("failed to claim payment %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (p *Payments) UpdateStatus(ctx context.Context, id, status string) error {
	err := p.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", id).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("failed to update payment %s status: %w", id, err)
	}
	return nil
}
