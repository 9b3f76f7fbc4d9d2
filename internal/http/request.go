package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Request describes one call against a platform service. The path is
// resolved against the client's base URL when the call is made.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Header http.Header

	// Body is a string, []byte or io.Reader sent as is, or any other value
	// sent as JSON. Form takes precedence when set.
	Body interface{}
	Form url.Values
}

// NewRequest starts a request for method and path.
func NewRequest(method, path string) *Request {
	return &Request{
		Method: method,
		Path:   path,
		Query:  url.Values{},
		Header: http.Header{},
	}
}

// WithHeader sets a header, replacing earlier values.
func (r *Request) WithHeader(key, value string) *Request {
	r.Header.Set(key, value)
	return r
}

// WithQueryParam appends a query parameter.
func (r *Request) WithQueryParam(key, value string) *Request {
	r.Query.Add(key, value)
	return r
}

// WithBody sets the body of the request. Strings, byte slices and readers
// are sent as is; anything else is encoded as JSON.
func (r *Request) WithBody(body interface{}) *Request {
	r.Body = body
	return r
}

// WithForm sends values as an urlencoded form, as hub spawn and TAP sync
// endpoints expect.
func (r *Request) WithForm(values url.Values) *Request {
	r.Form = values
	return r
}

func (r *Request) encodeBody() (io.Reader, string, error) {
	if r.Form != nil {
		return strings.NewReader(r.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	switch body := r.Body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(body), "", nil
	case []byte:
		return bytes.NewReader(body), "", nil
	case io.Reader:
		return body, "", nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// Build constructs an http.Request bound to ctx.
func (r *Request) Build(ctx context.Context, baseURL string) (*http.Request, error) {
	reqURL, err := ResolveURL(baseURL, r.Path)
	if err != nil {
		return nil, err
	}
	if len(r.Query) > 0 {
		query := reqURL.Query()
		for key, values := range r.Query {
			for _, value := range values {
				query.Add(key, value)
			}
		}
		reqURL.RawQuery = query.Encode()
	}

	body, contentType, err := r.encodeBody()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, reqURL.String(), body)
	if err != nil {
		return nil, err
	}
	for key, values := range r.Header {
		req.Header[key] = append([]string(nil), values...)
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// ResolveURL joins path onto baseURL. Absolute paths with a scheme are
// returned unchanged.
func ResolveURL(baseURL, path string) (*url.URL, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return url.Parse(path)
	}

	reqURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	rawPath, rawQuery, _ := strings.Cut(path, "?")
	if reqURL.Path == "" {
		reqURL.Path = rawPath
	} else {
		reqURL.Path = strings.TrimRight(reqURL.Path, "/") + "/" + strings.TrimLeft(rawPath, "/")
	}
	if rawQuery != "" {
		reqURL.RawQuery = rawQuery
	}
	return reqURL, nil
}
