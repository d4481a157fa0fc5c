package app

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/Duet/internal/core"
)

// ReconnectPolicy applies bounded retries to signaling disconnects: a fixed
// delay before each attempt, a hard cap on consecutive failures, and a reset
// on every successful registration.
type ReconnectPolicy struct {
	sig   core.Signaler
	delay time.Duration
	max   int

	mu       sync.Mutex
	attempts int
	timer    *time.Timer
	stopped  bool

	onExhausted func()
}

func NewReconnectPolicy(sig core.Signaler, delay time.Duration, max int, onExhausted func()) *ReconnectPolicy {
	return &ReconnectPolicy{
		sig:         sig,
		delay:       delay,
		max:         max,
		onExhausted: onExhausted,
	}
}

// HandleDisconnect schedules one reconnect attempt after the configured
// delay. When the budget is spent it reports exhaustion instead; the policy
// then stays quiet until the next successful registration.
func (p *ReconnectPolicy) HandleDisconnect() {
	p.mu.Lock()
	if p.stopped || p.timer != nil {
		p.mu.Unlock()
		return
	}
	if p.attempts >= p.max {
		p.mu.Unlock()
		log.Error().Str("module", "app.reconnect").Int("max", p.max).Msg("reconnect attempts exhausted")
		if p.onExhausted != nil {
			p.onExhausted()
		}
		return
	}
	p.attempts++
	attempt := p.attempts
	p.timer = time.AfterFunc(p.delay, func() { p.fire(attempt) })
	p.mu.Unlock()
}

func (p *ReconnectPolicy) fire(attempt int) {
	p.mu.Lock()
	p.timer = nil
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		return
	}

	log.Info().Str("module", "app.reconnect").Int("attempt", attempt).Int("max", p.max).Msg("reconnecting to signaling")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := p.sig.Reconnect(ctx); err != nil {
		log.Error().Err(err).Str("module", "app.reconnect").Int("attempt", attempt).Msg("reconnect failed")
		// A synchronous dial failure produces no disconnect event of its
		// own, so drive the next cycle here.
		p.HandleDisconnect()
	}
}

// HandleRegistered resets the budget after a successful registration.
func (p *ReconnectPolicy) HandleRegistered() {
	p.mu.Lock()
	p.attempts = 0
	p.mu.Unlock()
}

// Stop disarms any pending attempt and silences the policy for good.
func (p *ReconnectPolicy) Stop() {
	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.mu.Unlock()
}

// Attempts reports consecutive attempts since the last successful
// registration.
func (p *ReconnectPolicy) Attempts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attempts
}
