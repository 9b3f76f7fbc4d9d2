package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns the collection as an error, or nil when it is empty.
func (e *ValidationErrors) Err() error {
	if e.HasErrors() {
		return e
	}
	return nil
}

// Validate checks the service settings.
func (s *Settings) Validate() error {
	errs := &ValidationErrors{}

	if s.ListenAddress == "" {
		errs.Add("listen_address", "listen address is required")
	}
	if s.HTTPTimeout < 0 {
		errs.Add("http_timeout", "http timeout cannot be negative")
	}
	if s.StopGracePeriod < 0 {
		errs.Add("stop_grace_period", "stop grace period cannot be negative")
	}
	switch s.LogFormat {
	case "", "json", "console":
	default:
		errs.Add("log_format", fmt.Sprintf("unknown log format: %s", s.LogFormat))
	}
	if s.SlackWebhook != "" && !strings.HasPrefix(s.SlackWebhook, "http") {
		errs.Add("slack_webhook", "webhook must be an http(s) URL")
	}

	return errs.Err()
}
