package gateway

import "errors"

var (
	ErrMissingConfig      = errors.New("gateway configuration missing")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrSignatureMismatch  = errors.New("gateway signature mismatch")
)

// Transaction statuses reported by the status endpoint.
const (
	StatusPaid       = "PAID"
	StatusPending    = "PENDING"
	StatusAuthorized = "AUTHORIZED"
	StatusCancelled  = "CANCELLED"
	StatusDeclined   = "DECLINED"
	StatusError      = "ERROR"
	StatusExpired    = "EXPIRED"
)

// Request and callback parameter names.
const (
	ParamAccessKey = "access_key"
	ParamTimestamp = "timestamp"
	ParamToken     = "token"
	ParamOrderID   = "order_id"
	ParamAmount    = "amount"
	ParamReturnURL = "return_url"
	ParamMethod    = "method"
)

type CheckoutRequest struct {
	OrderID   string
	Amount    int64
	ReturnURL string
	Method    string
}

type CheckoutResponse struct {
	Token       string `json:"token"`
	RedirectURL string `json:"redirect_url"`
}

type StatusResponse struct {
	Token   string `json:"token"`
	Status  string `json:"status"`
	Amount  int64  `json:"amount"`
	OrderID string `json:"order_id"`
}

// IsPaid reports whether the gateway confirmed the capture.
func (r *StatusResponse) IsPaid() bool {
	return r != nil && r.Status == StatusPaid
}

type ReleaseResponse struct {
	Status string `json:"status"`
}
