// Package probe polls the backend health endpoint so the client can wait
// for the server before dialing its sockets. A circuit breaker backs the
// poll off while the server is down.
package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/temporalos/chatkit/internal/logging"
	"github.com/temporalos/chatkit/internal/resilience"
)

// Options configures a health probe.
type Options struct {
	URL      string
	Timeout  time.Duration
	Interval time.Duration
	Logger   *logging.Logger
}

// Probe checks backend health over HTTP.
type Probe struct {
	client   *resty.Client
	breaker  *resilience.Breaker
	url      string
	interval time.Duration
	log      *logging.Logger
}

// New builds a probe for the given endpoint.
func New(opts Options) *Probe {
	log := opts.Logger
	if log == nil {
		log = logging.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("User-Agent", "chatkit-probe/1.0")

	breaker := resilience.New(resilience.Settings{
		FailureThreshold: 3,
		Cooldown:         5 * interval,
		OnStateChange: func(from, to resilience.State) {
			log.Info("health breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &Probe{
		client:   client,
		breaker:  breaker,
		url:      opts.URL,
		interval: interval,
		log:      log,
	}
}

// Check performs one health request through the breaker.
func (p *Probe) Check(ctx context.Context) error {
	return p.breaker.Do(func() error {
		resp, err := p.client.R().SetContext(ctx).Get(p.url)
		if err != nil {
			return fmt.Errorf("health check %s: %w", p.url, err)
		}
		if resp.IsError() {
			return fmt.Errorf("health check %s: status %d", p.url, resp.StatusCode())
		}
		return nil
	})
}

// WaitReady blocks until a health check succeeds or the context ends.
// Breaker refusals count as ordinary waiting, not failure.
func (p *Probe) WaitReady(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Check(ctx); err == nil {
			p.log.Info("backend ready", zap.String("url", p.url))
			return nil
		} else if ctx.Err() != nil {
			return ctx.Err()
		} else {
			p.log.Debug("backend not ready", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
