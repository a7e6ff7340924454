package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/entitlements"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
	"github.com/ManuelReschke/paysettle/internal/pkg/validation"
	"github.com/gofiber/fiber/v2/log"
	validatorv10 "github.com/go-playground/validator/v10"
)

// CheckoutRequest starts a gateway-routed payment.
type CheckoutRequest struct {
	CorrelationID string               `validate:"required"`
	Amount        int64                `validate:"gt=0"`
	ReturnURL     string               `validate:"required,abs_url"`
	Method        models.PaymentMethod `validate:"required,gateway_method"`
	Tier          string               `validate:"required"`
}

// ManualRequest records a payment settled outside the gateway.
type ManualRequest struct {
	CorrelationID string               `validate:"required"`
	Amount        int64                `validate:"gt=0"`
	Method        models.PaymentMethod `validate:"required,manual_method"`
	Tier          string               `validate:"required"`
}

type CheckoutResult struct {
	RedirectURL string
	Token       string
	// Reused is set when a pending checkout was returned instead of creating a new one.
	Reused bool
}

// Initiator is the single entry point for starting a payment.
type Initiator struct {
	store    OrderStore
	gw       Gateway
	validate *validatorv10.Validate
}

func NewInitiator(store OrderStore, gw Gateway) *Initiator {
	return &Initiator{store: store, gw: gw, validate: validation.New()}
}

func (i *Initiator) Start(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if err := i.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if err := i.gw.Ready(); err != nil {
		log.Errorf("[Checkout] gateway not configured: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	ref, err := ParseCorrelationID(req.CorrelationID)
	if err != nil {
		return nil, err
	}
	offer, err := entitlements.Lookup(ref.Kind, req.Tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	order, err := i.store.FindOrderByCorrelationID(ctx, ref.CorrelationID())
	if err != nil {
		return nil, err
	}
	if err := checkoutAllowed(order, req.Amount); err != nil {
		return nil, err
	}
	if order.Status == models.PaymentStatusPending && order.Link != "" && order.Amount == req.Amount {
		log.Infof("[Checkout] reusing pending checkout order=%s", ref)
		return &CheckoutResult{RedirectURL: order.Link, Token: order.Token, Reused: true}, nil
	}

	resp, err := i.gw.Checkout(ctx, gateway.CheckoutRequest{
		OrderID:   ref.CorrelationID(),
		Amount:    req.Amount,
		ReturnURL: req.ReturnURL,
		Method:    string(req.Method),
	})
	if err != nil {
		if errors.Is(err, gateway.ErrMissingConfig) {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		log.Warnf("[Checkout] gateway checkout failed order=%s: %v", ref, err)
		return nil, err
	}

	if err := i.store.RecordCheckout(ctx, ref, CheckoutRecord{
		Amount:      req.Amount,
		Method:      req.Method,
		Token:       resp.Token,
		Link:        resp.RedirectURL,
		Entitlement: entitlementFromOffer(offer),
	}); err != nil {
		log.Errorf("[Checkout] failed to persist checkout order=%s token=%s: %v", ref, resp.Token, err)
		return nil, err
	}

	log.Infof("[Checkout] started order=%s method=%s amount=%d token=%s", ref, req.Method, req.Amount, resp.Token)
	return &CheckoutResult{RedirectURL: resp.RedirectURL, Token: resp.Token}, nil
}

// RequestManual marks the order pending for a manual method. It is settled
// only through the Console.
func (i *Initiator) RequestManual(ctx context.Context, req ManualRequest) error {
	if err := i.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	ref, err := ParseCorrelationID(req.CorrelationID)
	if err != nil {
		return err
	}
	offer, err := entitlements.Lookup(ref.Kind, req.Tier)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	order, err := i.store.FindOrderByCorrelationID(ctx, ref.CorrelationID())
	if err != nil {
		return err
	}
	if err := checkoutAllowed(order, req.Amount); err != nil {
		return err
	}

	if err := i.store.RecordCheckout(ctx, ref, CheckoutRecord{
		Amount:      req.Amount,
		Method:      req.Method,
		Entitlement: entitlementFromOffer(offer),
	}); err != nil {
		return err
	}
	log.Infof("[Checkout] manual payment requested order=%s method=%s amount=%d", ref, req.Method, req.Amount)
	return nil
}

func checkoutAllowed(order *Order, amount int64) error {
	switch order.Status {
	case models.PaymentStatusPaid:
		return fmt.Errorf("%w: %s", ErrAlreadyPaid, order.Ref)
	case models.PaymentStatusCancelled, models.PaymentStatusFailed:
		return fmt.Errorf("%w: %s is %s", ErrOrderClosed, order.Ref, order.Status)
	case models.PaymentStatusPending:
		if order.Token != "" && order.Amount != amount {
			return fmt.Errorf("%w: amount of %s is fixed once a gateway token exists", ErrInvalidTransition, order.Ref)
		}
	}
	return nil
}
