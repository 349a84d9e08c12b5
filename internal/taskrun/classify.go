package taskrun

import (
	"errors"
	"net/http"
	"strings"

	"scour/internal/services"
)

// Error kinds the execution service uses for quota and concurrency refusals.
// The set is vendor-defined; extend it here, never at call sites.
var capacityKinds = map[string]struct{}{
	"actor-memory-limit-exceeded":       {},
	"not-enough-usage-to-run-paid-actor": {},
	"usage-limit-exceeded":              {},
	"concurrent-runs-limit-exceeded":    {},
	"account-usage-limit-exceeded":      {},
}

// Message fragments observed on capacity refusals that arrive without a usable
// kind tag. Matched case-insensitively.
var capacityPhrases = []string{
	"memory limit",
	"usage limit",
	"exceed your remaining usage",
	"concurrent runs limit",
	"account limit",
}

// IsCapacityError reports whether err means the service is out of capacity for
// us right now, as opposed to rejecting the request itself. Capacity failures
// are demoted to the durable queue; everything else propagates. The checks run
// in order: the services.ErrCapacity marker, exact kind tag, message
// substring, then the payment-required status code, first match wins.
func IsCapacityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, services.ErrCapacity) {
		return true
	}
	var runErr *RunError
	if !errors.As(err, &runErr) || runErr == nil {
		return false
	}

	kind := strings.ToLower(strings.TrimSpace(runErr.Kind))
	if _, ok := capacityKinds[kind]; ok {
		return true
	}

	message := strings.ToLower(runErr.Message)
	for _, phrase := range capacityPhrases {
		if strings.Contains(message, phrase) {
			return true
		}
	}

	return runErr.StatusCode == http.StatusPaymentRequired
}
