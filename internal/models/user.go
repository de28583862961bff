package models

import (
	"time"
)

// User is one subscription ledger row per Telegram identity: which panel
// credential the user holds, on which node, until when. ClientUUID,
// ClientEmail, SubscriptionEnd and ServerID are always written together;
// a record where any of them is empty counts as "no credential".
type User struct {
	TelegramID       int64  `gorm:"primaryKey"`
	Username         string `gorm:"size:255"`
	ClientUUID       string `gorm:"size:64;index"`
	ClientEmail      string `gorm:"size:255"`
	SubscriptionEnd  *time.Time
	ServerID         int  `gorm:"index"`
	LimitIP          int  `gorm:"default:0"`
	IsTrialUsed      bool `gorm:"default:false"`
	NotifiedExpiring bool `gorm:"default:false"`
	NotifiedExpired  bool `gorm:"default:false"`
	IsActive         bool `gorm:"default:true"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasCredential reports whether all four credential fields are populated.
func (u *User) HasCredential() bool {
	return u.ClientUUID != "" && u.ClientEmail != "" && u.SubscriptionEnd != nil && u.ServerID != 0
}
