package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"proximity-map/internal/logging"
	"proximity-map/internal/metrics"
)

// envelopeSource is what the poller reads from; *Relay satisfies it.
type envelopeSource interface {
	Current(ctx context.Context) []byte
}

// sceneSink receives every newly drawn scene; *wsHub satisfies it.
type sceneSink interface {
	broadcast(state RenderState)
}

// poller drives the render cycle. Each tick starts its own fetch so a slow
// upstream never delays the next one; Renderer.Cycle drops results that
// arrive out of order.
type poller struct {
	relay    envelopeSource
	renderer *Renderer
	sink     sceneSink
	interval time.Duration
	timeout  time.Duration

	seq   atomic.Uint64
	mu    sync.Mutex
	state RenderState
}

func newPoller(relay envelopeSource, renderer *Renderer, sink sceneSink, interval, timeout time.Duration) *poller {
	return &poller{
		relay:    relay,
		renderer: renderer,
		sink:     sink,
		interval: interval,
		timeout:  timeout,
	}
}

// Serve implements suture.Service.
func (p *poller) Serve(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			seq := p.seq.Add(1)
			wg.Add(1)
			go func() {
				defer wg.Done()
				p.tick(ctx, seq)
			}()
			t.Reset(p.interval)
		}
	}
}

func (p *poller) String() string { return "render-poller" }

func (p *poller) tick(ctx context.Context, seq uint64) {
	// The relay's HTTP client already enforces the upstream timeout; this
	// also bounds the breaker and decode path.
	cctx, cancel := context.WithTimeout(ctx, p.timeout+time.Second)
	defer cancel()
	body := p.relay.Current(cctx)
	if ctx.Err() != nil {
		return
	}
	p.apply(seq, body)
}

// apply runs one cycle against the current state and publishes it if drawn.
func (p *poller) apply(seq uint64, body []byte) Outcome {
	env, err := decodeEnvelope(body)
	if err != nil {
		logging.Warn().Err(err).Uint64("seq", seq).Msg("undecodable envelope")
		env = nil
	}

	p.mu.Lock()
	next, outcome := p.renderer.Cycle(p.state, seq, env)
	p.state = next
	p.mu.Unlock()

	// The hub drops scenes older than the last one it sent.
	if outcome == OutcomeDrawn && p.sink != nil {
		p.sink.broadcast(next)
	}

	metrics.RecordRenderCycle(string(outcome), next.OverlayCount(), outcome == OutcomeDrawn)

	ev := logging.Debug()
	if outcome != OutcomeDrawn {
		ev = logging.Info()
	}
	if env != nil && env.Error != "" {
		ev = ev.Str("upstream_error", env.Error)
	}
	if env != nil && env.Dropped > 0 {
		ev = ev.Int("dropped_rows", env.Dropped)
	}
	ev.Uint64("seq", seq).Str("outcome", string(outcome)).Int("overlays", next.OverlayCount()).Msg("render cycle")
	return outcome
}

// Snapshot returns the scene currently drawn.
func (p *poller) Snapshot() RenderState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}
