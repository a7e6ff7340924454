package settlement

// Outcome is the finite set of results the payer or the gateway can observe.
type Outcome string

const (
	OutcomeSuccess       Outcome = "success"
	OutcomeReconcile     Outcome = "reconcile"
	OutcomeHashError     Outcome = "hash_error"
	OutcomeNotPaid       Outcome = "not_paid"
	OutcomeMissingParams Outcome = "missing_params"
	OutcomeConfigError   Outcome = "config_error"
	OutcomeError         Outcome = "error"
)

var AllOutcomes = []Outcome{
	OutcomeSuccess,
	OutcomeReconcile,
	OutcomeHashError,
	OutcomeNotPaid,
	OutcomeMissingParams,
	OutcomeConfigError,
	OutcomeError,
}

// ParseOutcome maps unknown input to OutcomeError.
func ParseOutcome(s string) Outcome {
	for _, o := range AllOutcomes {
		if string(o) == s {
			return o
		}
	}
	return OutcomeError
}

// Result is what the verifier resolved a callback to.
type Result struct {
	Outcome       Outcome
	GatewayStatus string
	CorrelationID string
	// Replay is set when the order was already paid before this delivery.
	Replay bool
	// Retryable asks the gateway to redeliver (transport failures only).
	Retryable bool
	Err       error
}
