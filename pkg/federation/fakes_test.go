package federation

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc/codes"

	"fedmgr/pkg/transport"
)

// fakeConn is an in-memory control connection with injectable failures
// and latency.
type fakeConn struct {
	mu        sync.Mutex
	closed    bool
	pings     int
	pingDelay time.Duration
	pingErr   error
	respCode  codes.Code
}

func (c *fakeConn) SendRecv(ctx context.Context, req *transport.Request) (*transport.Response, error) {
	c.mu.Lock()
	delay, err, code := c.pingDelay, c.pingErr, c.respCode
	c.pings++
	c.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &transport.Response{Type: req.Type, Code: code}, nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) pingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pings
}

// fakeDialer hands out fakeConns keyed by host and records every dial.
type fakeDialer struct {
	mu    sync.Mutex
	dials []string
	fail  map[string]error
	conns map[string]*fakeConn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		fail:  make(map[string]error),
		conns: make(map[string]*fakeConn),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, host string, port int) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials = append(d.dials, net.JoinHostPort(host, strconv.Itoa(port)))
	if err, ok := d.fail[host]; ok {
		return nil, err
	}
	conn := &fakeConn{}
	d.conns[host] = conn
	return conn, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) conn(host string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[host]
}

var errDialRefused = fmt.Errorf("connection refused")
