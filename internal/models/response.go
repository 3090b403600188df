package models

import "bytes"

// HeaderPair is a single response header. Values are kept as raw bytes so a
// replayed response is byte-for-byte identical to the original.
type HeaderPair struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

// SavedResponse is the response produced by the first execution of an
// idempotent command, persisted so retries can be answered without
// executing the command again.
type SavedResponse struct {
	StatusCode int
	Headers    []HeaderPair // Order is preserved
	Body       []byte
}

// Header returns the value of the first header named name.
func (r *SavedResponse) Header(name string) (string, bool) {
	for _, h := range r.Headers {
		if h.Name == name {
			return string(h.Value), true
		}
	}
	return "", false
}

// Clone returns a deep copy of the response.
func (r *SavedResponse) Clone() *SavedResponse {
	if r == nil {
		return nil
	}

	headers := make([]HeaderPair, len(r.Headers))
	for i, h := range r.Headers {
		headers[i] = HeaderPair{Name: h.Name, Value: bytes.Clone(h.Value)}
	}

	return &SavedResponse{
		StatusCode: r.StatusCode,
		Headers:    headers,
		Body:       bytes.Clone(r.Body),
	}
}
