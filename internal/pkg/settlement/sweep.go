package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
	"github.com/gofiber/fiber/v2/log"
)

// SweepReport summarizes one sweep run.
type SweepReport struct {
	Checked   int `json:"checked"`
	Settled   int `json:"settled"`
	Cancelled int `json:"cancelled"`
	Failed    int `json:"failed"`
	Reconcile int `json:"reconcile"`
	Skipped   int `json:"skipped"`
	Errors    int `json:"errors"`
}

// Sweeper re-queries gateway-routed orders that stayed pending, for payers
// who never returned from the gateway.
type Sweeper struct {
	store    OrderStore
	gw       Gateway
	verifier *Verifier
	now      func() time.Time
}

func NewSweeper(store OrderStore, gw Gateway, verifier *Verifier) *Sweeper {
	return &Sweeper{store: store, gw: gw, verifier: verifier, now: time.Now}
}

func (s *Sweeper) Run(ctx context.Context, minAge time.Duration, limit int) (SweepReport, error) {
	var report SweepReport
	if err := s.gw.Ready(); err != nil {
		return report, errors.Join(ErrConfiguration, err)
	}

	orders, err := s.store.ListStalePending(ctx, s.now().Add(-minAge), limit)
	if err != nil {
		return report, err
	}

	for i := range orders {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		order := orders[i]
		report.Checked++

		status, err := s.gw.Status(ctx, order.Token)
		if err != nil {
			log.Warnf("[Sweep] status query failed order=%s token=%s: %v", order.Ref, order.Token, err)
			report.Errors++
			continue
		}

		switch status.Status {
		case gateway.StatusPaid:
			s.verifier.release(ctx, order.Token, order.Ref.CorrelationID())
			res := s.verifier.settle(ctx, order.Token, order.Ref.CorrelationID(), status)
			if s.verifier.opts.Outcomes != nil {
				s.verifier.opts.Outcomes.Record(ctx, string(res.Outcome))
			}
			switch res.Outcome {
			case OutcomeSuccess:
				report.Settled++
			case OutcomeReconcile:
				report.Reconcile++
			default:
				report.Errors++
			}
		case gateway.StatusCancelled:
			switch s.close(ctx, order, models.PaymentStatusCancelled, status.Status) {
			case closeDone:
				report.Cancelled++
			case closeSkipped:
				report.Skipped++
			default:
				report.Errors++
			}
		case gateway.StatusDeclined, gateway.StatusError, gateway.StatusExpired:
			switch s.close(ctx, order, models.PaymentStatusFailed, status.Status) {
			case closeDone:
				report.Failed++
			case closeSkipped:
				report.Skipped++
			default:
				report.Errors++
			}
		default:
			report.Skipped++
		}
	}

	log.Infof("[Sweep] checked=%d settled=%d cancelled=%d failed=%d reconcile=%d skipped=%d errors=%d",
		report.Checked, report.Settled, report.Cancelled, report.Failed, report.Reconcile, report.Skipped, report.Errors)
	return report, nil
}

type closeResult int

const (
	closeDone closeResult = iota
	closeSkipped
	closeError
)

func (s *Sweeper) close(ctx context.Context, order Order, to models.PaymentStatus, gatewayStatus string) closeResult {
	err := s.store.UpdateStatus(ctx, order.Ref, []models.PaymentStatus{models.PaymentStatusPending}, to, order.Token)
	switch {
	case err == nil:
		log.Infof("[Sweep] order=%s -> %s (gateway %s)", order.Ref, to, gatewayStatus)
		return closeDone
	case errors.Is(err, ErrStatusConflict):
		return closeSkipped
	default:
		log.Errorf("[Sweep] closing order=%s failed: %v", order.Ref, err)
		return closeError
	}
}
