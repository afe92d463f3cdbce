// Package netcheck answers the dispatcher's "is the network up" precondition.
package netcheck

import (
	"context"
	"net"
	"time"
)

// Checker reports whether outbound connectivity is available.
type Checker interface {
	Online(ctx context.Context) bool
}

// Always is a Checker that never blocks delivery.
type Always struct{}

func (Always) Online(context.Context) bool { return true }

// Probe dials Address over TCP; a successful handshake means online.
type Probe struct {
	Address string
	Timeout time.Duration
}

func (p Probe) Online(ctx context.Context) bool {
	if p.Address == "" {
		return true
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Func adapts a function to Checker.
type Func func(ctx context.Context) bool

func (f Func) Online(ctx context.Context) bool { return f(ctx) }
