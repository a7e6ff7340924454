package settlement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/entitlements"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
)

var (
	ErrConfiguration     = errors.New("payment configuration error")
	ErrInvalidRequest    = errors.New("invalid payment request")
	ErrOrderNotFound     = errors.New("order not found")
	ErrStatusConflict    = errors.New("order status conflict")
	ErrAlreadyPaid       = errors.New("order already paid")
	ErrOrderClosed       = errors.New("order closed")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAmbiguousToken    = errors.New("gateway token matches more than one order")
)

// OrderRef identifies the record an order lives on.
type OrderRef struct {
	Kind entitlements.Kind
	ID   uint
}

// CorrelationID is the order id sent to the gateway, e.g. "listing-42".
func (r OrderRef) CorrelationID() string {
	return fmt.Sprintf("%s-%d", r.Kind, r.ID)
}

func (r OrderRef) String() string { return r.CorrelationID() }

// ParseCorrelationID parses "<kind>-<id>".
func ParseCorrelationID(s string) (OrderRef, error) {
	s = strings.TrimSpace(s)
	i := strings.LastIndex(s, "-")
	if i <= 0 || i == len(s)-1 {
		return OrderRef{}, fmt.Errorf("%w: malformed order id %q", ErrInvalidRequest, s)
	}
	kind := entitlements.Kind(strings.ToLower(s[:i]))
	if kind != entitlements.KindListing && kind != entitlements.KindBanner {
		return OrderRef{}, fmt.Errorf("%w: unknown order kind %q", ErrInvalidRequest, s[:i])
	}
	id, err := strconv.ParseUint(s[i+1:], 10, 64)
	if err != nil || id == 0 {
		return OrderRef{}, fmt.Errorf("%w: malformed order id %q", ErrInvalidRequest, s)
	}
	return OrderRef{Kind: kind, ID: uint(id)}, nil
}

// Order is the payment view of a listing or banner booking.
type Order struct {
	Ref                  OrderRef
	UserID               uint
	Status               models.PaymentStatus
	Method               models.PaymentMethod
	Amount               int64
	Token                string
	Link                 string
	Entitlement          Entitlement
	EntitlementAppliedAt *time.Time
	UpdatedAt            *time.Time
}

// Entitlement is what a paid order grants.
type Entitlement struct {
	Tier entitlements.Tier
	Days int
}

func entitlementFromOffer(o entitlements.Offer) Entitlement {
	return Entitlement{Tier: o.Tier, Days: o.Days}
}

// CheckoutRecord is persisted when an order moves to pending.
type CheckoutRecord struct {
	Amount      int64
	Method      models.PaymentMethod
	Token       string
	Link        string
	Entitlement Entitlement
}

// CallbackRecord is one logged callback delivery.
type CallbackRecord struct {
	DeliveryID     string
	Channel        string
	Token          string
	CorrelationID  string
	PayloadJSON    string
	SignatureValid bool
}

// OrderStore is the persistence contract of the settlement core. UpdateStatus and
// ApplyEntitlement are the only writers of payment state after checkout.
type OrderStore interface {
	FindOrderByToken(ctx context.Context, token string) (*Order, error)
	FindOrderByCorrelationID(ctx context.Context, id string) (*Order, error)
	// UpdateStatus moves the order to `to` if its current status is in `from`.
	// A non-empty token must match the stored token or fill an empty one.
	// Zero affected rows yields ErrStatusConflict.
	UpdateStatus(ctx context.Context, ref OrderRef, from []models.PaymentStatus, to models.PaymentStatus, token string) error
	// ApplyEntitlement applies ent to a paid order once; later calls report applied=false.
	ApplyEntitlement(ctx context.Context, ref OrderRef, ent Entitlement, now time.Time) (applied bool, err error)
	RecordCheckout(ctx context.Context, ref OrderRef, rec CheckoutRecord) error
	ListPending(ctx context.Context, limit int) ([]Order, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]Order, error)
	RecordCallback(ctx context.Context, rec CallbackRecord) (created bool, err error)
	MarkCallbackProcessed(ctx context.Context, deliveryID string, outcome Outcome, gatewayStatus, note string) error
	Transaction(ctx context.Context, fn func(store OrderStore) error) error
}

// Gateway is the subset of the gateway client the settlement core calls.
type Gateway interface {
	Ready() error
	VerifyCallback(params map[string]string) error
	Checkout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutResponse, error)
	Status(ctx context.Context, token string) (*gateway.StatusResponse, error)
	Release(ctx context.Context, token string) error
}

// Locker serializes work on one gateway token across instances.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// OutcomeRecorder counts verifier outcomes.
type OutcomeRecorder interface {
	Record(ctx context.Context, outcome string)
}

// ReleaseQueue schedules a retry of a failed release call.
type ReleaseQueue interface {
	EnqueueRelease(ctx context.Context, token, correlationID string) error
}

// Auditor archives suspicious or unmatched callbacks.
type Auditor interface {
	Archive(ctx context.Context, kind string, payload any) error
}
