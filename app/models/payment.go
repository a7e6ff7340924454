package models

import "time"

// PaymentStatus is the settlement state of a purchasable record.
type PaymentStatus string

const (
	PaymentStatusNone      PaymentStatus = "none"
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusPaid      PaymentStatus = "paid"
	PaymentStatusCancelled PaymentStatus = "cancelled"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed out of s.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusPaid, PaymentStatusCancelled, PaymentStatusFailed:
		return true
	default:
		return false
	}
}

// PaymentMethod is the settlement channel chosen by the payer.
type PaymentMethod string

const (
	// Routed through the payment gateway.
	PaymentMethodCard        PaymentMethod = "card"
	PaymentMethodPostFinance PaymentMethod = "postfinance"

	// Settled outside the gateway and confirmed by an administrator.
	PaymentMethodBankTransfer PaymentMethod = "bank_transfer"
	PaymentMethodTwintManual  PaymentMethod = "twint_manual"
	PaymentMethodInvoice      PaymentMethod = "invoice"
)

// IsGatewayRouted reports whether the method is handled by the gateway checkout.
func (m PaymentMethod) IsGatewayRouted() bool {
	return m == PaymentMethodCard || m == PaymentMethodPostFinance
}

// IsManual reports whether the method is reconciled by hand.
func (m PaymentMethod) IsManual() bool {
	switch m {
	case PaymentMethodBankTransfer, PaymentMethodTwintManual, PaymentMethodInvoice:
		return true
	default:
		return false
	}
}

// PaymentState holds the payment columns shared by listings and advertisements.
// It is embedded into both tables; the settlement package treats it as one logical order.
type PaymentState struct {
	PaymentStatus        PaymentStatus `gorm:"type:varchar(16);not null;default:'none';index" json:"payment_status"`
	PaymentMethod        PaymentMethod `gorm:"type:varchar(32);not null;default:''" json:"payment_method"`
	Amount               int64         `gorm:"not null;default:0" json:"amount"`
	GatewayToken         *string       `gorm:"type:varchar(191);uniqueIndex" json:"gateway_token,omitempty"`
	GatewayLink          string        `gorm:"type:varchar(512);not null;default:''" json:"-"`
	EntitlementTier      string        `gorm:"type:varchar(32);not null;default:''" json:"entitlement_tier"`
	EntitlementDays      int           `gorm:"not null;default:0" json:"entitlement_days"`
	EntitlementAppliedAt *time.Time    `gorm:"type:timestamp;default:null" json:"entitlement_applied_at,omitempty"`
	PaymentUpdatedAt     *time.Time    `gorm:"type:timestamp;default:null;index" json:"payment_updated_at,omitempty"`
}
