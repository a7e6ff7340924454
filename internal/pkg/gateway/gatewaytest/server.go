// Package gatewaytest runs an in-process payment gateway for tests.
package gatewaytest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
)

const (
	AccessKey = "test-access-key"
	Secret    = "test-secret"
)

type Transaction struct {
	Token     string
	OrderID   string
	Amount    int64
	Status    string
	ReturnURL string
}

// Server mimics the gateway checkout, status and release endpoints and
// rejects requests that are not signed with Secret.
type Server struct {
	*httptest.Server

	mu           sync.Mutex
	transactions map[string]*Transaction
	calls        map[string]int
	nextID       int

	FailStatus   bool
	FailRelease  bool
	FailCheckout bool
	OmitToken    bool
}

func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		transactions: map[string]*Transaction{},
		calls:        map[string]int{},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/checkout", s.handleCheckout)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/release", s.handleRelease)
	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *Server) Config() gateway.Config {
	return gateway.Config{BaseURL: s.URL, AccessKey: AccessKey, Secret: Secret, Timeout: 5 * time.Second}
}

func (s *Server) Client() *gateway.Client {
	return gateway.NewClient(s.Config())
}

// SetTransaction registers or replaces a transaction.
func (s *Server) SetTransaction(tx Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := tx
	s.transactions[tx.Token] = &cp
}

// Transaction returns a copy of the transaction behind token.
func (s *Server) Transaction(token string) (Transaction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.transactions[token]
	if !ok {
		return Transaction{}, false
	}
	return *tx, true
}

func (s *Server) Calls(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[path]
}

// Callback builds a correctly signed return callback for token.
func Callback(token, orderID string) map[string]string {
	params := map[string]string{
		gateway.ParamToken:     token,
		gateway.ParamTimestamp: strconv.FormatInt(time.Now().Unix(), 10),
	}
	if orderID != "" {
		params[gateway.ParamOrderID] = orderID
	}
	params[gateway.ParamHash] = gateway.Sign(params, Secret)
	return params
}

func (s *Server) authorize(w http.ResponseWriter, r *http.Request, path string) (map[string]string, bool) {
	s.mu.Lock()
	s.calls[path]++
	s.mu.Unlock()

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return nil, false
	}
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	params := map[string]string{}
	for k := range r.PostForm {
		params[k] = r.PostForm.Get(k)
	}
	if params[gateway.ParamAccessKey] != AccessKey || params[gateway.ParamTimestamp] == "" ||
		!gateway.Verify(params, params[gateway.ParamHash], Secret) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid signature"}`))
		return nil, false
	}
	return params, true
}

func (s *Server) handleCheckout(w http.ResponseWriter, r *http.Request) {
	params, ok := s.authorize(w, r, "/checkout")
	if !ok {
		return
	}
	if s.FailCheckout {
		w.WriteHeader(http.StatusBadGateway)
		return
	}
	amount, _ := strconv.ParseInt(params[gateway.ParamAmount], 10, 64)

	s.mu.Lock()
	s.nextID++
	token := fmt.Sprintf("T%d", s.nextID)
	s.transactions[token] = &Transaction{
		Token:     token,
		OrderID:   params[gateway.ParamOrderID],
		Amount:    amount,
		Status:    gateway.StatusPending,
		ReturnURL: params[gateway.ParamReturnURL],
	}
	s.mu.Unlock()

	resp := gateway.CheckoutResponse{RedirectURL: s.URL + "/pay/" + token}
	if !s.OmitToken {
		resp.Token = token
	}
	writeJSON(w, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	params, ok := s.authorize(w, r, "/status")
	if !ok {
		return
	}
	if s.FailStatus {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	s.mu.Lock()
	tx, found := s.transactions[params[gateway.ParamToken]]
	var out gateway.StatusResponse
	if found {
		out = gateway.StatusResponse{Token: tx.Token, Status: tx.Status, Amount: tx.Amount, OrderID: tx.OrderID}
	}
	s.mu.Unlock()
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, out)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authorize(w, r, "/release"); !ok {
		return
	}
	if s.FailRelease {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	writeJSON(w, gateway.ReleaseResponse{Status: "OK"})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
