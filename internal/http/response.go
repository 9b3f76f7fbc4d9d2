package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// Response represents a buffered HTTP response
type Response struct {
	StatusCode   int
	Status       string
	Headers      http.Header
	URL          string
	Method       string
	ResponseTime time.Duration
	rawBody      []byte
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// GetBodyAsString returns the response body as a string
func (r *Response) GetBodyAsString() string {
	return string(r.rawBody)
}

// GetBodyAsJSON unmarshals the response body into the provided interface
func (r *Response) GetBodyAsJSON(v interface{}) error {
	return json.Unmarshal(r.rawBody, v)
}

// JSON returns the body as a gjson result for path lookups.
func (r *Response) JSON() gjson.Result {
	return gjson.ParseBytes(r.rawBody)
}

// GetHeader returns the value of the specified header
func (r *Response) GetHeader(key string) string {
	return r.Headers.Get(key)
}

// IsSuccess returns true if the response status code is in the 2xx range
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Err returns a *StatusError unless the status is 2xx or one of allowed.
func (r *Response) Err(allowed ...int) error {
	if r.IsSuccess() {
		return nil
	}
	for _, code := range allowed {
		if r.StatusCode == code {
			return nil
		}
	}

	body := r.GetBodyAsString()
	if len(body) > 512 {
		body = body[:512] + "..."
	}
	return &StatusError{
		Method:     r.Method,
		URL:        r.URL,
		StatusCode: r.StatusCode,
		Body:       body,
	}
}
