package graph

import (
	"encoding/json"
	"fmt"
)

// Header is one header pair as echoed by the Graph batch endpoint.
// Order is preserved as received.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SubResult is the processed outcome of one sub-request inside a
// batch call. Exactly one of Data and Error is set; both stay null
// only for entries the upstream dropped entirely. A SubResult is
// never modified after SendBatch returns it.
type SubResult struct {
	Index        int             `json:"request_index"`
	RequestedURL string          `json:"requested_url"`
	StatusCode   *int            `json:"status_code"`
	Headers      []Header        `json:"headers,omitempty"`
	Data         json.RawMessage `json:"data"`
	Error        json.RawMessage `json:"error"`
}

// OK reports whether the sub-request succeeded (status 200 with a
// parseable body).
func (r SubResult) OK() bool {
	return r.StatusCode != nil && *r.StatusCode == 200 && r.Error == nil
}

// subResponse is the wire shape of one element of the upstream batch
// response array.
type subResponse struct {
	Code    *int     `json:"code"`
	Headers []Header `json:"headers"`
	Body    string   `json:"body"`
}

// batchOp is the wire shape of one operation in the outbound batch spec.
type batchOp struct {
	Method      string `json:"method"`
	RelativeURL string `json:"relative_url"`
}

// errorMarker builds a structured error value for failures detected
// on our side of the wire (null entries, unparseable bodies).
func errorMarker(format string, args ...interface{}) json.RawMessage {
	marker, err := json.Marshal(map[string]string{
		"message": fmt.Sprintf(format, args...),
	})
	if err != nil {
		// map[string]string cannot fail to marshal
		panic(err)
	}
	return marker
}

// truncate shortens raw upstream payloads for error messages and logs.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
