package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/nixxel-company-limited/escpos-bridge/escpos"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config key (e.g., "printer.charset")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidTransports returns the list of valid printer transports
func ValidTransports() []string {
	return []string{TransportUSB, TransportNetwork}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validatePrinter()...)

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if _, _, err := net.SplitHostPort(c.Server.Address); err != nil {
		errors = append(errors, ValidationError{
			Field:   "server.address",
			Value:   c.Server.Address,
			Message: "must be host:port",
		})
	}

	return errors
}

func (c *Config) validatePrinter() []ValidationError {
	var errors []ValidationError
	p := c.Printer

	if !slices.Contains(ValidTransports(), p.Transport) {
		errors = append(errors, ValidationError{
			Field:   "printer.transport",
			Value:   p.Transport,
			Message: fmt.Sprintf("must be one of %s", strings.Join(ValidTransports(), ", ")),
		})
	}

	if p.Transport == TransportNetwork {
		if _, _, err := net.SplitHostPort(p.Address); err != nil {
			errors = append(errors, ValidationError{
				Field:   "printer.address",
				Value:   p.Address,
				Message: "network printer needs host:port",
			})
		}
	}

	if (p.VID == 0) != (p.PID == 0) {
		errors = append(errors, ValidationError{
			Field:   "printer.pid",
			Value:   fmt.Sprintf("%04x:%04x", p.VID, p.PID),
			Message: "vid and pid must be set together",
		})
	}

	if !escpos.SupportedCharset(p.Charset) {
		errors = append(errors, ValidationError{
			Field:   "printer.charset",
			Value:   p.Charset,
			Message: "unsupported charset",
		})
	}

	if p.DotsPerLine < 8 {
		errors = append(errors, ValidationError{
			Field:   "printer.dots_per_line",
			Value:   p.DotsPerLine,
			Message: "must be at least 8",
		})
	}

	if p.CharsPerLine < 1 {
		errors = append(errors, ValidationError{
			Field:   "printer.chars_per_line",
			Value:   p.CharsPerLine,
			Message: "must be positive",
		})
	}

	return errors
}
