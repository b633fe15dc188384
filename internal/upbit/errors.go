package upbit

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"smtm/internal/pkg/circuit"

	"github.com/tidwall/gjson"
)

// APIError is a non-2xx answer from Upbit.
type APIError struct {
	Status  int
	Name    string
	Message string
}

func (e *APIError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("upbit: http %d", e.Status)
	}
	return fmt.Sprintf("upbit: http %d %s: %s", e.Status, e.Name, e.Message)
}

// Transient reports whether retrying the same request may succeed.
func (e *APIError) Transient() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func parseAPIError(status int, body []byte) *APIError {
	e := &APIError{Status: status}
	if gjson.ValidBytes(body) {
		res := gjson.ParseBytes(body)
		e.Name = res.Get("error.name").String()
		e.Message = res.Get("error.message").String()
	}
	return e
}

// IsTransient classifies network-layer failures, throttling, server errors
// and an open order circuit as retryable.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, circuit.ErrOpen) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// IsRejected reports an exchange-side refusal such as insufficient funds.
func IsRejected(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && !apiErr.Transient()
}

// IsNotFound reports a lookup of an order the exchange does not know.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == http.StatusNotFound || apiErr.Name == "order_not_found")
}
