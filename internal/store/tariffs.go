package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/Gothik99/botweb/internal/models"
)

type Tariffs struct {
	db *gorm.DB
}

func NewTariffs(db *gorm.DB) *Tariffs {
	return &Tariffs{db: db}
}

func (t *Tariffs) Active(ctx context.Context) ([]models.Tariff, error) {
	var tariffs []models.Tariff
	err := t.db.WithContext(ctx).
		Where("is_active").
		Order("sort_order, days").
		Find(&tariffs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tariffs: %w", err)
	}
	return tariffs, nil
}

func (t *Tariffs) Get(ctx context.Context, id uint) (*models.Tariff, error) {
	var tariff models.Tariff
	if err := t.db.WithContext(ctx).First(&tariff, id).Error; err != nil {
		return nil, fmt.Errorf("failed to load tariff %d: %w", id, err)
	}
	return &tariff, nil
}

// SeedDefault creates a standard tariff on an empty table.
func (t *Tariffs) SeedDefault(ctx context.Context) error {
	var count int64
	if err := t.db.WithContext(ctx).Model(&models.Tariff{}).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to count tariffs: %w", err)
	}
	if count > 0 {
		return nil
	}
	def := models.Tariff{Name: "Стандартный тариф (30 дней)", Days: 30, Price: 79, Currency: "RUB", IsActive: true}
	if err := t.db.WithContext(ctx).Create(&def).Error; err != nil {
		return fmt.Errorf("failed to seed default tariff: %w", err)
	}
	return nil
}
