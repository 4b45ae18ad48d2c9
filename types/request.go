// Package types defines core domain types for the FRR reload agent.
//
//nolint:revive // types is a common Go package naming convention
package types

// GenID is the client-supplied generation id of a configuration.
// It is echoed back in the response and names the staged config file.
// The agent does not check it for monotonicity or uniqueness.
type GenID int64

// KeepalivePayload is the control payload of a liveness probe.
const KeepalivePayload = "KEEPALIVE"

// StatusOk is the response payload for a successful request.
const StatusOk = "Ok"

// Request is one decoded request frame.
type Request struct {
	// GenID is the generation id of the submitted configuration.
	GenID GenID
	// Payload is KeepalivePayload or a full configuration text.
	Payload string
}

// IsKeepalive reports whether the request is a liveness probe.
// The comparison is exact: no trimming or case folding.
func (r *Request) IsKeepalive() bool {
	return r.Payload == KeepalivePayload
}

// Response is one response frame.
type Response struct {
	// GenID echoes the request's generation id.
	GenID GenID
	// Payload is a short UTF-8 status string.
	Payload []byte
}

// NewResponse builds a response for genID carrying status.
func NewResponse(genID GenID, status string) *Response {
	return &Response{GenID: genID, Payload: []byte(status)}
}

// Status returns the response payload as a string.
func (r *Response) Status() string {
	return string(r.Payload)
}

// OK reports whether the response carries StatusOk.
func (r *Response) OK() bool {
	return r.Status() == StatusOk
}
