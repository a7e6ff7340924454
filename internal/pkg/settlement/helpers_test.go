package settlement_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/ManuelReschke/paysettle/internal/pkg/gateway/gatewaytest"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement/settlementtest"
)

type recorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	releases []string
	audits   map[string]int
	locks    int
	lockErr  error
}

func newRecorder() *recorder {
	return &recorder{outcomes: map[string]int{}, audits: map[string]int{}}
}

func (r *recorder) Record(_ context.Context, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *recorder) EnqueueRelease(_ context.Context, token, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releases = append(r.releases, token)
	return nil
}

func (r *recorder) Archive(_ context.Context, kind string, _ any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audits[kind]++
	return nil
}

func (r *recorder) Lock(_ context.Context, _ string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locks++
	if r.lockErr != nil {
		return nil, r.lockErr
	}
	return func() {}, nil
}

func (r *recorder) count(outcome settlement.Outcome) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.outcomes[string(outcome)]
}

func (r *recorder) audited(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.audits[kind]
}

type fixture struct {
	srv   *gatewaytest.Server
	store *settlementtest.MemoryStore
	rec   *recorder
	svc   *settlement.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	srv := gatewaytest.New(t)
	store := settlementtest.NewMemoryStore()
	rec := newRecorder()
	svc := settlement.NewService(store, srv.Client(), settlement.VerifierOptions{
		Locker:   rec,
		Outcomes: rec,
		Releases: rec,
		Audit:    rec,
	})
	return &fixture{srv: srv, store: store, rec: rec, svc: svc}
}

var errLockBusy = errors.New("lock busy")
