package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/entitlements"
	"github.com/gofiber/fiber/v2/log"
)

// ConsoleResult reports what a console action did.
type ConsoleResult struct {
	Order   *Order
	Changed bool
}

// Console is the manual reconciliation path for payments that never produce
// a gateway callback. It uses the same store primitives as the Verifier.
type Console struct {
	store OrderStore
	now   func() time.Time
}

func NewConsole(store OrderStore) *Console {
	return &Console{store: store, now: time.Now}
}

// MarkPaid settles an order by hand. listingType selects the tier; an empty
// value keeps the tier recorded at checkout. An order in status none is moved
// to pending and then to paid within one transaction.
func (c *Console) MarkPaid(ctx context.Context, correlationID, listingType, actor string) (*ConsoleResult, error) {
	ref, err := ParseCorrelationID(correlationID)
	if err != nil {
		return nil, err
	}
	order, err := c.store.FindOrderByCorrelationID(ctx, ref.CorrelationID())
	if err != nil {
		return nil, err
	}

	ent := order.Entitlement
	if strings.TrimSpace(listingType) != "" {
		offer, err := entitlements.Lookup(ref.Kind, listingType)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		ent = entitlementFromOffer(offer)
	}
	if ent.Tier == "" || ent.Days <= 0 {
		return nil, fmt.Errorf("%w: no tier recorded for %s, listing_type required", ErrInvalidRequest, ref)
	}

	err = c.store.Transaction(ctx, func(store OrderStore) error {
		// Orders without a checkout still pass through pending.
		err := store.UpdateStatus(ctx, ref, []models.PaymentStatus{models.PaymentStatusNone}, models.PaymentStatusPending, "")
		if err != nil && !errors.Is(err, ErrStatusConflict) {
			return err
		}
		if err := store.UpdateStatus(ctx, ref, []models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusPaid, ""); err != nil {
			return err
		}
		_, err = store.ApplyEntitlement(ctx, ref, ent, c.now())
		return err
	})
	switch {
	case err == nil:
		log.Infof("[Console] order=%s marked paid by %s tier=%s", ref, actor, ent.Tier)
		return c.result(ctx, ref, true)
	case errors.Is(err, ErrStatusConflict):
		current, ferr := c.store.FindOrderByCorrelationID(ctx, ref.CorrelationID())
		if ferr != nil {
			return nil, ferr
		}
		if current.Status == models.PaymentStatusPaid {
			log.Infof("[Console] order=%s already paid, mark-paid by %s ignored", ref, actor)
			return &ConsoleResult{Order: current}, nil
		}
		return nil, fmt.Errorf("%w: cannot mark %s order %s paid", ErrInvalidTransition, current.Status, ref)
	default:
		return nil, err
	}
}

// Cancel moves a pending order to cancelled. Paid orders are never cancelled.
func (c *Console) Cancel(ctx context.Context, correlationID, actor string) (*ConsoleResult, error) {
	ref, err := ParseCorrelationID(correlationID)
	if err != nil {
		return nil, err
	}

	err = c.store.UpdateStatus(ctx, ref, []models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusCancelled, "")
	if err == nil {
		log.Infof("[Console] order=%s cancelled by %s", ref, actor)
		return c.result(ctx, ref, true)
	}
	if !errors.Is(err, ErrStatusConflict) {
		return nil, err
	}

	current, ferr := c.store.FindOrderByCorrelationID(ctx, ref.CorrelationID())
	if ferr != nil {
		return nil, ferr
	}
	switch current.Status {
	case models.PaymentStatusCancelled:
		return &ConsoleResult{Order: current}, nil
	case models.PaymentStatusPaid:
		return nil, fmt.Errorf("%w: %s is already paid", ErrAlreadyPaid, ref)
	default:
		return nil, fmt.Errorf("%w: cannot cancel %s order %s", ErrInvalidTransition, current.Status, ref)
	}
}

// Pending lists orders waiting for payment, oldest first.
func (c *Console) Pending(ctx context.Context, limit int) ([]Order, error) {
	return c.store.ListPending(ctx, limit)
}

// Show loads a single order.
func (c *Console) Show(ctx context.Context, correlationID string) (*Order, error) {
	return c.store.FindOrderByCorrelationID(ctx, correlationID)
}

func (c *Console) result(ctx context.Context, ref OrderRef, changed bool) (*ConsoleResult, error) {
	order, err := c.store.FindOrderByCorrelationID(ctx, ref.CorrelationID())
	if err != nil {
		return nil, err
	}
	return &ConsoleResult{Order: order, Changed: changed}, nil
}
