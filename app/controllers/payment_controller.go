package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/paysettle/app/models"
	"github.com/ManuelReschke/paysettle/internal/pkg/entitlements"
	"github.com/ManuelReschke/paysettle/internal/pkg/gateway"
	"github.com/ManuelReschke/paysettle/internal/pkg/settlement"
)

const (
	PaymentResultPath = "/payment/result"
	PaymentReturnPath = "/payment/return"

	callbackTimeout = 30 * time.Second
)

// PaymentController serves the payer-facing checkout and the gateway callbacks.
type PaymentController struct {
	svc       *settlement.Service
	returnURL string
	now       func() time.Time
}

// NewPaymentController creates a controller; returnURL is the absolute URL the
// gateway sends the payer back to.
func NewPaymentController(svc *settlement.Service, returnURL string) *PaymentController {
	return &PaymentController{svc: svc, returnURL: returnURL, now: time.Now}
}

type checkoutForm struct {
	OrderID string `json:"order_id" form:"order_id"`
	Method  string `json:"method" form:"method"`
	Tier    string `json:"tier" form:"tier"`
}

// HandleCheckout starts a gateway checkout and redirects the payer to the gateway.
// The amount always comes from the catalogue and the return URL from the
// server configuration, never from the request.
func (pc *PaymentController) HandleCheckout(c *fiber.Ctx) error {
	var form checkoutForm
	if err := c.BodyParser(&form); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Could not parse request"})
	}

	offer, err := offerFor(form.OrderID, form.Tier)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	ctx, cancel := context.WithTimeout(c.UserContext(), callbackTimeout)
	defer cancel()

	res, err := pc.svc.Initiator.Start(ctx, settlement.CheckoutRequest{
		CorrelationID: strings.TrimSpace(form.OrderID),
		Amount:        offer.Price,
		ReturnURL:     pc.returnURL,
		Method:        models.PaymentMethod(strings.TrimSpace(form.Method)),
		Tier:          string(offer.Tier),
	})
	if err != nil {
		status, code := checkoutErrorStatus(err)
		if status >= fiber.StatusInternalServerError {
			log.Errorf("[Payment] checkout %s failed: %v", form.OrderID, err)
		}
		return c.Status(status).JSON(fiber.Map{"error": code})
	}

	if wantsJSON(c) {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"redirect_url": res.RedirectURL,
			"token":        res.Token,
			"reused":       res.Reused,
		})
	}
	return c.Redirect(res.RedirectURL, fiber.StatusSeeOther)
}

// HandleManualCheckout records a bank transfer, manual TWINT or invoice intent.
func (pc *PaymentController) HandleManualCheckout(c *fiber.Ctx) error {
	var form checkoutForm
	if err := c.BodyParser(&form); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": "Could not parse request"})
	}

	offer, err := offerFor(form.OrderID, form.Tier)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_request", "message": err.Error()})
	}

	err = pc.svc.Initiator.RequestManual(c.UserContext(), settlement.ManualRequest{
		CorrelationID: strings.TrimSpace(form.OrderID),
		Amount:        offer.Price,
		Method:        models.PaymentMethod(strings.TrimSpace(form.Method)),
		Tier:          string(offer.Tier),
	})
	if err != nil {
		status, code := checkoutErrorStatus(err)
		return c.Status(status).JSON(fiber.Map{"error": code})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"status":   string(models.PaymentStatusPending),
		"order_id": strings.TrimSpace(form.OrderID),
		"amount":   offer.Price,
	})
}

// HandleReturn processes the redirect-style callback and sends the payer to the result page.
func (pc *PaymentController) HandleReturn(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), callbackTimeout)
	defer cancel()

	res := pc.svc.Verifier.Handle(ctx, settlement.Callback{
		Channel: settlement.ChannelReturn,
		Params:  callbackParams(c),
	})
	return c.Redirect(pc.resultURL(res), fiber.StatusSeeOther)
}

// HandleNotify processes the server-to-server callback. Transport failures answer
// 503 so the gateway redelivers; everything else is final.
func (pc *PaymentController) HandleNotify(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), callbackTimeout)
	defer cancel()

	res := pc.svc.Verifier.Handle(ctx, settlement.Callback{
		Channel: settlement.ChannelNotify,
		Params:  callbackParams(c),
	})

	body := fiber.Map{"status": string(res.Outcome)}
	if res.GatewayStatus != "" {
		body["gateway_status"] = res.GatewayStatus
	}
	if res.CorrelationID != "" {
		body["order_id"] = res.CorrelationID
	}
	if res.Replay {
		body["replay"] = true
	}

	switch {
	case res.Retryable, res.Outcome == settlement.OutcomeConfigError:
		body["retry"] = true
		return c.Status(fiber.StatusServiceUnavailable).JSON(body)
	case res.Outcome == settlement.OutcomeHashError:
		return c.Status(fiber.StatusUnauthorized).JSON(body)
	case res.Outcome == settlement.OutcomeMissingParams:
		return c.Status(fiber.StatusBadRequest).JSON(body)
	default:
		return c.Status(fiber.StatusOK).JSON(body)
	}
}

// HandleResult renders the payer-facing result page for an outcome code.
func (pc *PaymentController) HandleResult(c *fiber.Ctx) error {
	outcome := settlement.ParseOutcome(c.Query("status"))
	title, message := resultCopy(outcome, c.Query("gateway_status"))

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Render("payment_result", fiber.Map{
		"Title":   title,
		"Message": message,
		"Status":  string(outcome),
		"Success": outcome == settlement.OutcomeSuccess,
		"Review":  outcome == settlement.OutcomeReconcile,
	})
}

func (pc *PaymentController) resultURL(res settlement.Result) string {
	q := url.Values{}
	q.Set("status", string(res.Outcome))
	if res.GatewayStatus != "" {
		q.Set("gateway_status", res.GatewayStatus)
	}
	q.Set("t", strconv.FormatInt(pc.now().UnixNano(), 10))
	return PaymentResultPath + "?" + q.Encode()
}

func resultCopy(outcome settlement.Outcome, gatewayStatus string) (string, string) {
	switch outcome {
	case settlement.OutcomeSuccess:
		return "Payment received", "Your payment was confirmed and your upgrade is active."
	case settlement.OutcomeReconcile:
		return "Payment under review", "We received your payment and are matching it to your order. No further action is needed."
	case settlement.OutcomeHashError:
		return "Payment could not be verified", "The response from the payment provider could not be verified. You have not been charged twice; please contact support if the amount was debited."
	case settlement.OutcomeNotPaid:
		msg := "The payment was not completed."
		if gatewayStatus != "" {
			msg = fmt.Sprintf("The payment was not completed (provider status: %s).", gatewayStatus)
		}
		return "Payment not completed", msg
	case settlement.OutcomeMissingParams:
		return "Incomplete payment response", "The payment provider did not send all required information."
	case settlement.OutcomeConfigError:
		return "Payments temporarily unavailable", "Online payment is currently unavailable. Please try again later."
	default:
		return "Something went wrong", "We could not confirm your payment right now. Please check again in a few minutes."
	}
}

func offerFor(orderID, tier string) (entitlements.Offer, error) {
	ref, err := settlement.ParseCorrelationID(strings.TrimSpace(orderID))
	if err != nil {
		return entitlements.Offer{}, errors.New("invalid order_id")
	}
	offer, err := entitlements.Lookup(ref.Kind, tier)
	if err != nil {
		return entitlements.Offer{}, fmt.Errorf("unknown tier %q", tier)
	}
	return offer, nil
}

func checkoutErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, settlement.ErrInvalidRequest):
		return fiber.StatusBadRequest, "invalid_request"
	case errors.Is(err, settlement.ErrConfiguration):
		return fiber.StatusServiceUnavailable, "config_error"
	case errors.Is(err, settlement.ErrOrderNotFound):
		return fiber.StatusNotFound, "order_not_found"
	case errors.Is(err, settlement.ErrAlreadyPaid):
		return fiber.StatusConflict, "already_paid"
	case errors.Is(err, settlement.ErrOrderClosed):
		return fiber.StatusConflict, "order_closed"
	case errors.Is(err, settlement.ErrInvalidTransition), errors.Is(err, settlement.ErrStatusConflict):
		return fiber.StatusConflict, "invalid_transition"
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		return fiber.StatusBadGateway, "gateway_unavailable"
	default:
		return fiber.StatusInternalServerError, "error"
	}
}

// callbackParams merges query, form and JSON body values into one flat map.
// Body values win over query values with the same name.
func callbackParams(c *fiber.Ctx) map[string]string {
	params := make(map[string]string)
	c.Context().QueryArgs().VisitAll(func(k, v []byte) {
		params[string(k)] = string(v)
	})

	if c.Method() == fiber.MethodPost {
		contentType := strings.ToLower(c.Get(fiber.HeaderContentType))
		switch {
		case strings.HasPrefix(contentType, fiber.MIMEApplicationJSON):
			mergeJSON(params, c.Body())
		case strings.HasPrefix(contentType, fiber.MIMEMultipartForm):
			if form, err := c.MultipartForm(); err == nil {
				for k, vs := range form.Value {
					if len(vs) > 0 {
						params[k] = vs[0]
					}
				}
			}
		default:
			c.Context().PostArgs().VisitAll(func(k, v []byte) {
				params[string(k)] = string(v)
			})
		}
	}

	for k, v := range params {
		params[k] = strings.TrimSpace(v)
	}
	return params
}

func mergeJSON(params map[string]string, body []byte) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		log.Warnf("[Payment] ignoring undecodable JSON callback body: %v", err)
		return
	}
	for k, v := range payload {
		switch val := v.(type) {
		case string:
			params[k] = val
		case json.Number:
			params[k] = val.String()
		case bool:
			params[k] = strconv.FormatBool(val)
		case nil:
			params[k] = ""
		default:
			// nested values are not part of the signed parameter set
		}
	}
}

func wantsJSON(c *fiber.Ctx) bool {
	return c.Accepts(fiber.MIMETextHTML, fiber.MIMEApplicationJSON) == fiber.MIMEApplicationJSON
}
