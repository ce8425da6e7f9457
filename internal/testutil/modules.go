// Package testutil holds operation test doubles shared by package tests.
package testutil

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/vk/recsexplorer/internal/operation"
	"github.com/vk/recsexplorer/internal/record"
)

// ErrProbe is returned by the "fail" operation.
var ErrProbe = errors.New("boom")

// Passthrough forwards every record and runs OnFinish before finishing the
// next sink.
type Passthrough struct {
	Next     operation.Sink
	OnFinish func() error
}

// AcceptRecord forwards r.
func (p *Passthrough) AcceptRecord(r record.Record) bool { return p.Next.AcceptRecord(r) }

// Finish runs the hook, then finishes the next sink.
func (p *Passthrough) Finish() error {
	if p.OnFinish != nil {
		if err := p.OnFinish(); err != nil {
			return err
		}
	}
	return p.Next.Finish()
}

// ProbeModule registers three pass-through operations:
//
//	count  counts how often it is constructed
//	fail   errors with ErrProbe on Finish
//	block  waits on Release before finishing
type ProbeModule struct {
	Built   atomic.Int64
	Release chan struct{}
}

// NewProbeModule returns a module whose "block" operation waits until the
// caller closes Release.
func NewProbeModule() *ProbeModule {
	return &ProbeModule{Release: make(chan struct{})}
}

// Register implements operation.Module.
func (m *ProbeModule) Register(r *operation.Registry) {
	r.Register("count", func(_ context.Context, next operation.Sink, _ []string) (operation.Operation, error) {
		m.Built.Add(1)
		return &Passthrough{Next: next}, nil
	})
	r.Register("fail", func(_ context.Context, next operation.Sink, _ []string) (operation.Operation, error) {
		return &Passthrough{Next: next, OnFinish: func() error { return ErrProbe }}, nil
	})
	r.Register("block", func(_ context.Context, next operation.Sink, _ []string) (operation.Operation, error) {
		return &Passthrough{Next: next, OnFinish: func() error {
			<-m.Release
			return nil
		}}, nil
	})
}

// SimpleModule registers a single factory under Name.
type SimpleModule struct {
	Name    string
	Factory operation.Factory
}

// Register implements operation.Module.
func (m *SimpleModule) Register(r *operation.Registry) {
	if m.Name != "" && m.Factory != nil {
		r.Register(m.Name, m.Factory)
	}
}
