package idempotency

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
)

// HeaderPair is one response header line. Values are kept as raw bytes so that a
// replay reproduces the original bytes exactly.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// SavedResponse is an HTTP response captured for replay.
type SavedResponse struct {
	StatusCode int
	Headers    []HeaderPair
	Body       []byte
}

// NewSavedResponse captures status, headers and body. Header names are emitted in
// sorted order and each name keeps the order of its values.
func NewSavedResponse(status int, header http.Header, body []byte) *SavedResponse {
	names := make([]string, 0, len(header))
	for name := range header {
		names = append(names, name)
	}
	sort.Strings(names)

	var pairs []HeaderPair
	for _, name := range names {
		for _, v := range header[name] {
			pairs = append(pairs, HeaderPair{Name: name, Value: []byte(v)})
		}
	}

	return &SavedResponse{
		StatusCode: status,
		Headers:    pairs,
		Body:       append([]byte(nil), body...),
	}
}

// SeeOther builds a 303 redirect.
func SeeOther(location string) *SavedResponse {
	return &SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers:    []HeaderPair{{Name: "Location", Value: []byte(location)}},
	}
}

// Header rebuilds an http.Header preserving value order per name.
func (r *SavedResponse) Header() http.Header {
	h := make(http.Header, len(r.Headers))
	for _, p := range r.Headers {
		h[p.Name] = append(h[p.Name], string(p.Value))
	}
	return h
}

// Write sends the response on w.
func (r *SavedResponse) Write(w http.ResponseWriter) error {
	dst := w.Header()
	for _, p := range r.Headers {
		dst[p.Name] = append(dst[p.Name], string(p.Value))
	}
	w.WriteHeader(r.StatusCode)
	if len(r.Body) == 0 {
		return nil
	}
	if _, err := w.Write(r.Body); err != nil {
		return fmt.Errorf("failed to write response body: %w", err)
	}
	return nil
}

func encodeHeaders(headers []HeaderPair) ([]byte, error) {
	if headers == nil {
		headers = []HeaderPair{}
	}
	data, err := json.Marshal(headers)
	if err != nil {
		return nil, fmt.Errorf("failed to encode response headers: %w", err)
	}
	return data, nil
}

func decodeHeaders(data []byte) ([]HeaderPair, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var headers []HeaderPair
	if err := json.Unmarshal(data, &headers); err != nil {
		return nil, fmt.Errorf("failed to decode response headers: %w", err)
	}
	return headers, nil
}
