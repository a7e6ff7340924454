package models

import "time"

// PaymentCallbackEvent records each gateway callback delivery with deduplication
// metadata and the outcome it resolved to.
type PaymentCallbackEvent struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	DeliveryID     string     `gorm:"type:varchar(64);not null;uniqueIndex:ux_payment_callback_events_delivery" json:"delivery_id"`
	Channel        string     `gorm:"type:varchar(16);not null;index" json:"channel"`
	GatewayToken   string     `gorm:"type:varchar(191);not null;default:'';index" json:"gateway_token"`
	CorrelationID  string     `gorm:"type:varchar(64);not null;default:'';index" json:"correlation_id"`
	PayloadJSON    string     `gorm:"type:longtext;not null" json:"payload_json"`
	SignatureValid bool       `gorm:"default:false;index" json:"signature_valid"`
	Outcome        string     `gorm:"type:varchar(32);not null;default:'';index" json:"outcome"`
	GatewayStatus  string     `gorm:"type:varchar(32);not null;default:''" json:"gateway_status"`
	ProcessedAt    *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingNote string     `gorm:"type:text" json:"processing_note"`
	CreatedAt      time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PaymentCallbackEvent) TableName() string { return "payment_callback_events" }
