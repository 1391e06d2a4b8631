package weather

import (
	"fmt"
	"strings"
)

// Reasons recorded when a provider is passed over.
const (
	ReasonRateLimited = "rate limited"
	ReasonUnsupported = "unsupported"
)

// ProviderError is one provider's failure during a fallback pass.
type ProviderError struct {
	Provider string
	Reason   string
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Reason)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// AllProvidersFailedError is returned when no provider could answer and
// nothing usable was cached.
type AllProvidersFailedError struct {
	Kind     string
	Failures []*ProviderError
}

func (e *AllProvidersFailedError) Error() string {
	if len(e.Failures) == 0 {
		return fmt.Sprintf("all weather providers failed for %s: no providers configured", e.Kind)
	}
	reasons := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		reasons = append(reasons, f.Error())
	}
	return fmt.Sprintf("all weather providers failed for %s: %s", e.Kind, strings.Join(reasons, "; "))
}

func (e *AllProvidersFailedError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f)
	}
	return errs
}
