package models

import (
	"time"
)

type Payment struct {
	ID         string  `gorm:"primaryKey;size:64"` // YooKassa payment id
	TelegramID int64   `gorm:"not null;index"`
	Amount     float64 `gorm:"not null"`
	Currency   string  `gorm:"size:8;default:'RUB'"`
	Status     string  `gorm:"size:32;default:'pending'"` // pending, succeeded, canceled
	Metadata   string  `gorm:"type:text"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
