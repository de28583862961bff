package models

import (
	"time"
)

// PromoCode is a single-use code granting Days of subscription time.
type PromoCode struct {
	Code        string `gorm:"primaryKey;size:64"`
	Days        int    `gorm:"not null;default:30"`
	IsActive    bool   `gorm:"default:true"`
	ActivatedBy int64  `gorm:"index"`
	ActivatedAt *time.Time
	CreatedAt   time.Time
}
