package validation

import (
	"errors"
	"net/url"

	"github.com/ManuelReschke/paysettle/app/models"
	validatorv10 "github.com/go-playground/validator/v10"
)

// New returns a validator with the payment specific tags registered:
// gateway_method, manual_method and abs_url.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	_ = v.RegisterValidation("gateway_method", func(fl validatorv10.FieldLevel) bool {
		return models.PaymentMethod(fl.Field().String()).IsGatewayRouted()
	})
	_ = v.RegisterValidation("manual_method", func(fl validatorv10.FieldLevel) bool {
		return models.PaymentMethod(fl.Field().String()).IsManual()
	})
	_ = v.RegisterValidation("abs_url", func(fl validatorv10.FieldLevel) bool {
		u, err := url.Parse(fl.Field().String())
		return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
	})

	return v
}

// FieldErrors flattens validation errors into field -> tag.
func FieldErrors(err error) map[string]string {
	out := map[string]string{}
	var ve validatorv10.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			out[fe.Field()] = fe.Tag()
		}
	} else if err != nil {
		out["error"] = err.Error()
	}
	return out
}
