package models

import (
	"time"
)

type Tariff struct {
	ID          uint    `gorm:"primaryKey"`
	Name        string  `gorm:"size:255;not null"`
	Days        int     `gorm:"not null"`
	Price       float64 `gorm:"not null"`
	Currency    string  `gorm:"size:8;default:'RUB'"`
	IsActive    bool    `gorm:"default:true"`
	SortOrder   int     `gorm:"default:0"`
	Description string  `gorm:"type:text"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
