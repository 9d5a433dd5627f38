package provider

import "fmt"

// ConfigError reports a malformed or missing configuration value, such
// as a bad start date or an absent credential. It fails the constructor
// and is never retried.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid configuration for %s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("invalid configuration for %s", e.Field)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ValidationError reports a canonical-shape violation in a raw fetch
// result. It is fatal for the call and never repaired beyond the
// documented null-value drop.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("data validation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("data validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// RetrievalError reports an unreachable remote source or an empty or
// garbled response. The service facade retries these.
type RetrievalError struct {
	Source string
	Err    error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("failed to retrieve data from %s: %v", e.Source, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }
