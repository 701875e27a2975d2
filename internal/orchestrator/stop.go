package orchestrator

import (
	"context"
	"sync"
)

// ManualStop is a StopSignal fired programmatically, e.g. from an HTTP
// handler. A Trigger with nobody waiting is ignored so it cannot end the
// next recording early.
type ManualStop struct {
	mu      sync.Mutex
	ch      chan struct{}
	waiters int
}

// NewManualStop creates an unarmed signal.
func NewManualStop() *ManualStop {
	return &ManualStop{}
}

// Wait blocks until Trigger or ctx ends.
func (m *ManualStop) Wait(ctx context.Context) error {
	m.mu.Lock()
	if m.ch == nil {
		m.ch = make(chan struct{})
	}
	ch := m.ch
	m.waiters++
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.waiters--
		if m.waiters == 0 && m.ch == ch {
			m.ch = nil
		}
		m.mu.Unlock()
	}()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger releases every current waiter and reports whether there was one.
func (m *ManualStop) Trigger() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ch == nil {
		return false
	}
	close(m.ch)
	m.ch = nil
	return true
}

// Armed reports whether someone is waiting.
func (m *ManualStop) Armed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ch != nil
}

// AnyStop fires when the first of signals fires.
func AnyStop(signals ...StopSignal) StopSignal {
	return anyStop(signals)
}

type anyStop []StopSignal

func (a anyStop) Wait(ctx context.Context) error {
	if len(a) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, len(a))
	for _, s := range a {
		go func() { done <- s.Wait(ctx) }()
	}
	return <-done
}
