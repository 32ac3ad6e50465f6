// Package transport provides the persistent control-plane connection used
// to talk to sibling cluster controllers. Callers see an opaque
// open/send-recv/close capability; the concrete implementation is gRPC.
package transport

import (
	"context"

	"google.golang.org/grpc/codes"
)

// MsgType identifies a control-plane request.
type MsgType uint16

const (
	// MsgPing is a no-op liveness probe.
	MsgPing MsgType = 1008
)

// Request is one control-plane request. Only the ping carries meaning
// here; everything else is business logic layered on top.
type Request struct {
	Type MsgType
}

// Response carries the remote controller's return code.
type Response struct {
	Type MsgType
	Code codes.Code
}

// OK reports whether the remote side returned success.
func (r *Response) OK() bool { return r != nil && r.Code == codes.OK }

// Conn is a persistent connection to one remote controller.
type Conn interface {
	// SendRecv performs one synchronous round trip.
	SendRecv(ctx context.Context, req *Request) (*Response, error)
	// Close performs an orderly shutdown.
	Close() error
}

// Dialer opens control connections to remote controllers.
type Dialer interface {
	Dial(ctx context.Context, host string, port int) (Conn, error)
}
