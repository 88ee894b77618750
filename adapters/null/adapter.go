// Package null is an adapter that records statements instead of executing them.
package null

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/picklr-io/strata/internal/adapter"
	"github.com/picklr-io/strata/internal/ir"
)

// Name is the adapter name used in target configuration.
const Name = "null"

// Executed is one recorded request.
type Executed struct {
	Target    string
	UniqueID  string
	Statement string
	Relation  ir.Relation
}

// Adapter records every request. Requests for ids in Fail return that error.
type Adapter struct {
	target *ir.Target

	mu       sync.Mutex
	executed []Executed
	fail     map[string]error
	delay    time.Duration
}

func New(target *ir.Target) *Adapter {
	return &Adapter{target: target, fail: make(map[string]error)}
}

// Factory builds null adapters. Target option "delay" (a duration) slows every request.
func Factory(target *ir.Target) (adapter.Adapter, error) {
	a := New(target)
	if d := target.Options["delay"]; d != "" {
		delay, err := time.ParseDuration(d)
		if err != nil {
			return nil, fmt.Errorf("invalid delay %q: %w", d, err)
		}
		a.delay = delay
	}
	return a, nil
}

func (a *Adapter) Name() string { return Name }

// FailOn makes requests for id fail with err.
func (a *Adapter) FailOn(id string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fail[id] = err
}

func (a *Adapter) Execute(ctx context.Context, req *adapter.Request) (*adapter.Response, error) {
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err, ok := a.fail[req.Resource.UniqueID]; ok {
		return nil, err
	}
	a.executed = append(a.executed, Executed{
		Target:    a.target.Name,
		UniqueID:  req.Resource.UniqueID,
		Statement: adapter.Materialize(req),
		Relation:  req.Relation,
	})
	return &adapter.Response{Message: "OK"}, nil
}

// Executed returns the recorded requests in execution order.
func (a *Adapter) Executed() []Executed {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Executed(nil), a.executed...)
}

func (a *Adapter) Close() error { return nil }
