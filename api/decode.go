package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const (
	maxAuthBodySize  = 4 << 10
	maxSmallBodySize = 16 << 10
)

// decodeJSON reads a bounded JSON body into T. Unknown fields are rejected.
// When allowEmpty is set an empty body yields the zero value.
func decodeJSON[T any](w http.ResponseWriter, r *http.Request, limit int64, allowEmpty bool) (T, bool) {
	var req T
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return req, true
		}
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return req, false
	}
	return req, true
}
