package transport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// Request describes one API call. Form and JSON are mutually exclusive; Form
// wins when both are set.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	Form    url.Values
	JSON    any
	Headers http.Header
	// NoCache bypasses the GET response cache for this call.
	NoCache bool
}

// Response is a successful API response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the response body into v.
func (r *Response) Decode(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (r *Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r *Request) cacheable() bool {
	return r.method() == http.MethodGet && !r.NoCache
}

// cacheKey identifies a GET by path and canonical query. url.Values.Encode
// sorts by key, so parameter order does not matter.
func (r *Request) cacheKey() string {
	if len(r.Query) == 0 {
		return r.Path
	}
	return r.Path + "?" + r.Query.Encode()
}
