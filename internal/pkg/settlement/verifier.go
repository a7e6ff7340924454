package settlement

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
	"github.com/gofiber/fiber/v2/log"
)

const (
	ChannelReturn = "return"
	ChannelNotify = "notify"
	ChannelSweep  = "sweep"
)

// Callback is one inbound gateway delivery, already normalized to a flat map.
type Callback struct {
	Channel string
	Params  map[string]string
}

// VerifierOptions carries the optional collaborators. Nil members are skipped.
type VerifierOptions struct {
	Locker   Locker
	Outcomes OutcomeRecorder
	Releases ReleaseQueue
	Audit    Auditor
}

// Verifier authenticates return callbacks, confirms the payment with the
// gateway and settles the matching order.
type Verifier struct {
	store OrderStore
	gw    Gateway
	opts  VerifierOptions
	now   func() time.Time
}

func NewVerifier(store OrderStore, gw Gateway, opts VerifierOptions) *Verifier {
	return &Verifier{store: store, gw: gw, opts: opts, now: time.Now}
}

func (v *Verifier) Handle(ctx context.Context, cb Callback) Result {
	res, deliveryID := v.handle(ctx, cb)
	v.finish(ctx, deliveryID, res)
	return res
}

func (v *Verifier) handle(ctx context.Context, cb Callback) (Result, string) {
	params := cb.Params
	token := strings.TrimSpace(params[gateway.ParamToken])
	correlationID := strings.TrimSpace(params[gateway.ParamOrderID])

	if token == "" || params[gateway.ParamTimestamp] == "" || params[gateway.ParamHash] == "" {
		log.Warnf("[Verifier] callback missing params channel=%s keys=%v", cb.Channel, paramKeys(params))
		return Result{Outcome: OutcomeMissingParams, CorrelationID: correlationID}, ""
	}

	// Nothing is written to the store before the signature checks out.
	if verr := v.gw.VerifyCallback(params); verr != nil {
		if errors.Is(verr, gateway.ErrMissingConfig) {
			log.Errorf("[Verifier] cannot verify callback, gateway secret missing: %v", verr)
			return Result{Outcome: OutcomeConfigError, CorrelationID: correlationID, Err: verr}, ""
		}
		log.Warnf("[Verifier] HASH MISMATCH channel=%s params=%v", cb.Channel, params)
		v.archive(ctx, "hash_mismatch", map[string]any{"channel": cb.Channel, "params": params})
		return Result{Outcome: OutcomeHashError, CorrelationID: correlationID, Err: verr}, ""
	}
	deliveryID := v.logDelivery(ctx, cb, token, correlationID)
	if err := v.gw.Ready(); err != nil {
		log.Errorf("[Verifier] gateway not configured: %v", err)
		return Result{Outcome: OutcomeConfigError, CorrelationID: correlationID, Err: err}, deliveryID
	}

	if v.opts.Locker != nil {
		unlock, err := v.opts.Locker.Lock(ctx, "payment:token:"+token)
		if err != nil {
			log.Warnf("[Verifier] lock for token=%s not acquired, continuing: %v", token, err)
		} else {
			defer unlock()
		}
	}

	status, err := v.gw.Status(ctx, token)
	if err != nil {
		log.Errorf("[Verifier] status query failed token=%s: %v", token, err)
		return Result{Outcome: OutcomeError, CorrelationID: correlationID, Retryable: true, Err: err}, deliveryID
	}
	if !status.IsPaid() {
		log.Infof("[Verifier] token=%s not paid, gateway status=%q", token, status.Status)
		return Result{Outcome: OutcomeNotPaid, GatewayStatus: status.Status, CorrelationID: correlationID}, deliveryID
	}

	v.release(ctx, token, firstNonEmpty(correlationID, status.OrderID))
	return v.settle(ctx, token, correlationID, status), deliveryID
}

// release is best effort; a failure is queued for retry and never blocks settlement.
func (v *Verifier) release(ctx context.Context, token, correlationID string) {
	err := v.gw.Release(ctx, token)
	if err == nil {
		return
	}
	log.Warnf("[Verifier] release failed token=%s: %v", token, err)
	if v.opts.Releases == nil {
		return
	}
	if qerr := v.opts.Releases.EnqueueRelease(ctx, token, correlationID); qerr != nil {
		log.Errorf("[Verifier] failed to enqueue release retry token=%s: %v", token, qerr)
	}
}

// settle applies a gateway-confirmed payment to its order.
func (v *Verifier) settle(ctx context.Context, token, callbackOrderID string, status *gateway.StatusResponse) Result {
	correlationID := firstNonEmpty(callbackOrderID, status.OrderID)
	if callbackOrderID != "" && status.OrderID != "" && callbackOrderID != status.OrderID {
		return v.reconcile(ctx, token, correlationID, status, "callback order_id differs from gateway order_id")
	}

	order, err := v.locate(ctx, token, correlationID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return v.reconcile(ctx, token, correlationID, status, "no order matches paid transaction")
		}
		log.Errorf("[Verifier] order lookup failed token=%s order=%s: %v", token, correlationID, err)
		return Result{Outcome: OutcomeError, CorrelationID: correlationID, Retryable: true, Err: err}
	}
	correlationID = order.Ref.CorrelationID()

	if order.Token != "" && order.Token != token {
		return v.reconcile(ctx, token, correlationID, status, "order carries a different gateway token")
	}
	if status.Amount != 0 && status.Amount != order.Amount {
		return v.reconcile(ctx, token, correlationID, status,
			fmt.Sprintf("amount mismatch order=%d gateway=%d", order.Amount, status.Amount))
	}

	applied := false
	err = v.store.Transaction(ctx, func(store OrderStore) error {
		if err := store.UpdateStatus(ctx, order.Ref, []models.PaymentStatus{models.PaymentStatusPending}, models.PaymentStatusPaid, token); err != nil {
			return err
		}
		ok, err := store.ApplyEntitlement(ctx, order.Ref, order.Entitlement, v.now())
		applied = ok
		return err
	})
	if err == nil {
		if !applied {
			log.Warnf("[Verifier] order=%s moved to paid but entitlement was already applied", correlationID)
		}
		log.Infof("[Verifier] order=%s paid token=%s tier=%s", correlationID, token, order.Entitlement.Tier)
		return Result{Outcome: OutcomeSuccess, GatewayStatus: status.Status, CorrelationID: correlationID}
	}
	if !errors.Is(err, ErrStatusConflict) {
		log.Errorf("[Verifier] settling order=%s failed: %v", correlationID, err)
		return Result{Outcome: OutcomeError, CorrelationID: correlationID, Retryable: true, Err: err}
	}

	current, ferr := v.store.FindOrderByCorrelationID(ctx, correlationID)
	if ferr == nil && current.Status == models.PaymentStatusPaid && (current.Token == "" || current.Token == token) {
		log.Infof("[Verifier] order=%s already paid, replay ignored", correlationID)
		return Result{Outcome: OutcomeSuccess, GatewayStatus: status.Status, CorrelationID: correlationID, Replay: true}
	}
	observed := "unknown"
	if ferr == nil {
		observed = string(current.Status)
	}
	return v.reconcile(ctx, token, correlationID, status, "paid transaction but order status is "+observed)
}

// locate resolves the order by correlation id first and falls back to the token.
func (v *Verifier) locate(ctx context.Context, token, correlationID string) (*Order, error) {
	if correlationID != "" {
		order, err := v.store.FindOrderByCorrelationID(ctx, correlationID)
		if err == nil {
			return order, nil
		}
		if !errors.Is(err, ErrOrderNotFound) {
			return nil, err
		}
	}
	return v.store.FindOrderByToken(ctx, token)
}

func (v *Verifier) reconcile(ctx context.Context, token, correlationID string, status *gateway.StatusResponse, reason string) Result {
	log.Warnf("[Verifier] RECONCILE token=%s order=%s gateway_status=%s amount=%d: %s",
		token, correlationID, status.Status, status.Amount, reason)
	v.archive(ctx, "reconcile", map[string]any{
		"token":          token,
		"order_id":       correlationID,
		"gateway_status": status.Status,
		"gateway_amount": status.Amount,
		"gateway_order":  status.OrderID,
		"reason":         reason,
	})
	return Result{
		Outcome:       OutcomeReconcile,
		GatewayStatus: status.Status,
		CorrelationID: correlationID,
		Err:           errors.New(reason),
	}
}

func (v *Verifier) archive(ctx context.Context, kind string, payload any) {
	if v.opts.Audit == nil {
		return
	}
	if err := v.opts.Audit.Archive(ctx, kind, payload); err != nil {
		log.Warnf("[Verifier] audit archive %s failed: %v", kind, err)
	}
}

func (v *Verifier) logDelivery(ctx context.Context, cb Callback, token, correlationID string) string {
	deliveryID := DeliveryID(cb.Params)
	payload, _ := json.Marshal(cb.Params)
	created, err := v.store.RecordCallback(ctx, CallbackRecord{
		DeliveryID:     deliveryID,
		Channel:        cb.Channel,
		Token:          token,
		CorrelationID:  correlationID,
		PayloadJSON:    string(payload),
		SignatureValid: true,
	})
	if err != nil {
		log.Warnf("[Verifier] failed to log callback delivery=%s: %v", deliveryID, err)
		return ""
	}
	if !created {
		log.Infof("[Verifier] duplicate delivery=%s token=%s", deliveryID, token)
	}
	return deliveryID
}

func (v *Verifier) finish(ctx context.Context, deliveryID string, res Result) {
	if v.opts.Outcomes != nil {
		v.opts.Outcomes.Record(ctx, string(res.Outcome))
	}
	if deliveryID == "" {
		return
	}
	note := ""
	if res.Err != nil {
		note = res.Err.Error()
	}
	if err := v.store.MarkCallbackProcessed(ctx, deliveryID, res.Outcome, res.GatewayStatus, note); err != nil {
		log.Warnf("[Verifier] failed to mark delivery=%s processed: %v", deliveryID, err)
	}
}

// DeliveryID is a stable id of a parameter set; identical redeliveries share it.
func DeliveryID(params map[string]string) string {
	h := sha256.New()
	for _, k := range paramKeys(params) {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(params[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func paramKeys(params map[string]string) []string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func firstNonEmpty(values ...string) string {
	for _, s := range values {
		if s != "" {
			return s
		}
	}
	return ""
}
