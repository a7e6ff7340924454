package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Client talks to the payment gateway. Every call is freshly timestamped and signed.
type Client struct {
	cfg        Config
	signer     *Signer
	HTTPClient *http.Client
	now        func() time.Time
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		cfg:        cfg,
		signer:     NewSigner(),
		HTTPClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}
}

func NewClientFromEnv() *Client {
	return NewClient(ConfigFromEnv())
}

// Ready returns ErrMissingConfig when credentials are absent.
func (c *Client) Ready() error {
	return c.cfg.Validate()
}

// VerifyCallback authenticates an inbound callback parameter set.
func (c *Client) VerifyCallback(params map[string]string) error {
	if c.cfg.Secret == "" {
		return fmt.Errorf("%w: GATEWAY_SECRET", ErrMissingConfig)
	}
	if !c.signer.Verify(params, params[ParamHash], c.cfg.Secret) {
		return ErrSignatureMismatch
	}
	return nil
}

func (c *Client) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResponse, error) {
	params := map[string]string{
		ParamOrderID:   req.OrderID,
		ParamAmount:    strconv.FormatInt(req.Amount, 10),
		ParamReturnURL: req.ReturnURL,
		ParamMethod:    req.Method,
	}
	var out CheckoutResponse
	if err := c.post(ctx, "/checkout", params, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.RedirectURL) == "" {
		return nil, fmt.Errorf("%w: checkout response missing redirect_url", ErrGatewayUnavailable)
	}
	return &out, nil
}

func (c *Client) Status(ctx context.Context, token string) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.post(ctx, "/status", map[string]string{ParamToken: token}, &out); err != nil {
		return nil, err
	}
	out.Status = strings.ToUpper(strings.TrimSpace(out.Status))
	return &out, nil
}

func (c *Client) Release(ctx context.Context, token string) error {
	var out ReleaseResponse
	if err := c.post(ctx, "/release", map[string]string{ParamToken: token}, &out); err != nil {
		return err
	}
	switch strings.ToUpper(strings.TrimSpace(out.Status)) {
	case "", "OK", "RELEASED", StatusPaid:
		return nil
	default:
		return fmt.Errorf("%w: release rejected status=%s", ErrGatewayUnavailable, out.Status)
	}
}

func (c *Client) post(ctx context.Context, path string, params map[string]string, out any) error {
	if err := c.cfg.Validate(); err != nil {
		return err
	}

	signed := make(map[string]string, len(params)+3)
	for k, v := range params {
		signed[k] = v
	}
	signed[ParamAccessKey] = c.cfg.AccessKey
	signed[ParamTimestamp] = strconv.FormatInt(c.now().Unix(), 10)

	form := url.Values{}
	for k, v := range signed {
		form.Set(k, v)
	}
	form.Set(ParamHash, c.signer.Sign(signed, c.cfg.Secret))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, path, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s failed: status=%d body=%s", ErrGatewayUnavailable, path, resp.StatusCode, string(body))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: decode response: %v", ErrGatewayUnavailable, path, err)
	}
	return nil
}

// IsUnavailable reports whether err is a transport-level gateway failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrGatewayUnavailable)
}
