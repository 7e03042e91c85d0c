// Package connectivity reports whether the backend is reachable.
package connectivity

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"chatclient/internal/observable"
)

// Probe dials addr over TCP every interval and publishes the outcome.
type Probe struct {
	addr     string
	interval time.Duration
	timeout  time.Duration
	dial     func(ctx context.Context, network, address string) (net.Conn, error)
	online   *observable.Value[bool]

	mu       sync.Mutex
	override *bool
}

func NewProbe(addr string, interval time.Duration) *Probe {
	d := &net.Dialer{}
	return &Probe{
		addr:     addr,
		interval: interval,
		timeout:  min(interval, 3*time.Second),
		dial:     d.DialContext,
		online:   observable.NewValue(false),
	}
}

func (p *Probe) Online() bool {
	return p.online.Get()
}

func (p *Probe) Watch(ctx context.Context) <-chan bool {
	return p.online.Watch(ctx)
}

// Override pins the published value until it is called again with nil.
func (p *Probe) Override(online *bool) {
	p.mu.Lock()
	if online == nil {
		p.override = nil
	} else {
		v := *online
		p.override = &v
		p.online.Set(v)
	}
	p.mu.Unlock()
}

// Run checks reachability until ctx is done.
func (p *Probe) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.publish(p.check(ctx))
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Probe) publish(reachable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.override != nil {
		return
	}
	if p.online.Set(reachable) {
		slog.Info("connectivity changed", "online", reachable, "addr", p.addr)
	}
}

func (p *Probe) check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	conn, err := p.dial(ctx, "tcp", p.addr)
	if err != nil {
		slog.Debug("backend unreachable", "addr", p.addr, "error", err)
		return false
	}
	_ = conn.Close()
	return true
}
