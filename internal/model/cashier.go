package model

import (
	"time"
)

// Cashier is the counter staff account that processed a settlement.
// Account management lives in the admin module; the ledger only joins
// against this table to label settlement history.
type Cashier struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FullName  string    `gorm:"type:varchar(128);not null" json:"full_name"`
	Active    bool      `gorm:"not null;default:true" json:"active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Cashier) TableName() string {
	return "cashier"
}
