package federation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"fedmgr/pkg/transport"
)

// ErrNotConnected is returned by SendRecv when the record has no live
// connection.
var ErrNotConnected = errors.New("sibling not connected")

// ConnPool opens, closes, and uses the per-sibling control connections.
// Every operation holds only the single record's lock, so a hung sibling
// cannot block progress on another.
type ConnPool struct {
	dialer transport.Dialer
	log    *zap.Logger
}

// NewConnPool returns a pool dialing through the given transport.
func NewConnPool(dialer transport.Dialer, log *zap.Logger) *ConnPool {
	return &ConnPool{
		dialer: dialer,
		log:    log.With(zap.String("component", "fed_pool")),
	}
}

// Open dials rec unless it is the self-entry or already connected. Dial
// failures are absorbed: the handle stays unset and the prober retries on
// its next pass.
func (p *ConnPool) Open(ctx context.Context, rec *ClusterRecord) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.IsSelf || rec.conn != nil {
		return
	}
	if rec.Host == "" || rec.Port <= 0 {
		p.log.Debug("sibling has no usable control endpoint",
			zap.String("cluster", rec.Name),
			zap.String("host", rec.Host),
			zap.Int("port", rec.Port))
		return
	}

	p.log.Debug("opening sibling conn",
		zap.String("cluster", rec.Name),
		zap.String("host", rec.Host),
		zap.Int("port", rec.Port))

	conn, err := p.dialer.Dial(ctx, rec.Host, rec.Port)
	if err != nil {
		p.log.Warn("failed to open sibling conn",
			zap.String("cluster", rec.Name),
			zap.String("host", rec.Host),
			zap.Int("port", rec.Port),
			zap.Error(err))
		return
	}
	rec.conn = conn
	p.log.Debug("opened sibling conn", zap.String("cluster", rec.Name))
}

// Close shuts down rec's connection if one is open. Idempotent.
func (p *ConnPool) Close(rec *ClusterRecord) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.conn == nil {
		return
	}
	p.log.Debug("closing sibling conn", zap.String("cluster", rec.Name))
	if err := rec.conn.Close(); err != nil {
		p.log.Warn("error closing sibling conn",
			zap.String("cluster", rec.Name), zap.Error(err))
	}
	rec.conn = nil
}

// SendRecv performs one synchronous round trip on rec's connection. A
// transport failure marks the record "not connected" and is returned to
// the caller.
func (p *ConnPool) SendRecv(ctx context.Context, rec *ClusterRecord, req *transport.Request) (*transport.Response, error) {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.conn == nil {
		return nil, ErrNotConnected
	}
	resp, err := rec.conn.SendRecv(ctx, req)
	if err != nil {
		_ = rec.conn.Close()
		rec.conn = nil
		return nil, err
	}
	return resp, nil
}

// Ping issues the no-op liveness probe. A transport failure leaves the
// record "not connected"; a non-success return code does not, matching
// the distinction between a dead connection and an unhappy peer.
func (p *ConnPool) Ping(ctx context.Context, rec *ClusterRecord) error {
	resp, err := p.SendRecv(ctx, rec, &transport.Request{Type: transport.MsgPing})
	if err != nil {
		return err
	}
	if !resp.OK() {
		return fmt.Errorf("ping returned %s", resp.Code)
	}
	return nil
}
