package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/Gothik99/botweb/internal/models"
)

type Promos struct {
	db *gorm.DB
}

func NewPromos(db *gorm.DB) *Promos {
	return &Promos{db: db}
}

func (p *Promos) Get(ctx context.Context, code string) (*models.PromoCode, error) {
	var promo models.PromoCode
	err := p.db.WithContext(ctx).Where("code = ?", code).First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load promo code: %w", err)
	}
	return &promo, nil
}

// Consume marks a code used by the given user. The WHERE clause on
// is_active makes the consumption single-use even under a redemption race.
func (p *Promos) Consume(ctx context.Context, code string, telegramID int64) (bool, error) {
	now := time.Now().UTC()
	res := p.db.WithContext(ctx).Model(&models.PromoCode{}).
		Where("code = ? AND is_active", code).
		Updates(map[string]interface{}{
			"is_active":    false,
			"activated_by": telegramID,
			"activated_at": now,
		})
	if res.Error != nil {
		return false, fmt.Errorf("failed to consume promo code: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (p *Promos) Create(ctx context.Context, code string, days int) error {
	promo := models.PromoCode{Code: code, Days: days, IsActive: true}
	if err := p.db.WithContext(ctx).Create(&promo).Error; err != nil {
		return fmt.Errorf("failed to create promo code: %w", err)
	}
	return nil
}
