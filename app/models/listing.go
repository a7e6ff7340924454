package models

import "time"

const (
	ListingTierBasic = "basic"
)

// Listing is a classified ad. Only the columns touched by settlement are mapped here;
// the rest of the row belongs to the listing module.
type Listing struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	UserID        uint         `gorm:"not null;index" json:"user_id"`
	Title         string       `gorm:"type:varchar(200);not null;default:''" json:"title"`
	Tier          string       `gorm:"type:varchar(32);not null;default:'basic'" json:"tier"`
	TierExpiresAt *time.Time   `gorm:"type:timestamp;default:null" json:"tier_expires_at,omitempty"`
	Payment       PaymentState `gorm:"embedded" json:"payment"`
	CreatedAt     time.Time    `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Listing) TableName() string { return "listings" }
