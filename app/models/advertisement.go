package models

import "time"

// Advertisement is a banner booking.
type Advertisement struct {
	ID          uint         `gorm:"primaryKey" json:"id"`
	UserID      uint         `gorm:"not null;index" json:"user_id"`
	Placement   string       `gorm:"type:varchar(64);not null;default:''" json:"placement"`
	Package     string       `gorm:"type:varchar(32);not null;default:''" json:"package"`
	ActiveFrom  *time.Time   `gorm:"type:timestamp;default:null" json:"active_from,omitempty"`
	ActiveUntil *time.Time   `gorm:"type:timestamp;default:null" json:"active_until,omitempty"`
	Payment     PaymentState `gorm:"embedded" json:"payment"`
	CreatedAt   time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Advertisement) TableName() string { return "advertisements" }
