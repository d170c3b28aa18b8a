package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers bridge-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	// duration: a positive Go duration string such as "30s" or "2m"
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	// http_url: an absolute http or https URL with a host
	if err := v.RegisterValidation("http_url", validateHTTPURL); err != nil {
		return fmt.Errorf("failed to register http_url validator: %w", err)
	}
	return nil
}

func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

func validateHTTPURL(fl validator.FieldLevel) bool {
	u, err := url.Parse(fl.Field().String())
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	// Create validator with required struct enabled
	v := validator.New(validator.WithRequiredStructEnabled())

	// Register custom validators
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	// Run struct validation (tags)
	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	// Cross-field validation: the handshake must fit in a request budget
	if err := c.validateTimeouts(); err != nil {
		return err
	}

	return nil
}

// validateTimeouts rejects a handshake timeout longer than the request
// timeout, since every implicit handshake runs inside a caller's request.
func (c *Config) validateTimeouts() error {
	if c.Upstream.Timeout == "" || c.Upstream.HandshakeTimeout == "" {
		return nil
	}
	if c.HandshakeTimeout() > c.UpstreamTimeout() {
		return fmt.Errorf("upstream.handshake_timeout (%s) must not exceed upstream.timeout (%s)",
			c.Upstream.HandshakeTimeout, c.Upstream.Timeout)
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			msg := formatSingleValidationError(e)
			messages = append(messages, msg)
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive duration such as \"30s\"", field)
	case "http_url":
		return fmt.Sprintf("%s must be an http:// or https:// URL", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
