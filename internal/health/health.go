// Package health provides a registry of named subsystem health checkers.
//
// A failing checker makes the service degraded. A failing critical checker
// also makes it not ready. An informational checker is only reported.
package health

import (
	"context"
	"fmt"
	"sync"
)

// Status represents the health of a single subsystem.
type Status struct {
	Name     string `json:"name"`
	Healthy  bool   `json:"healthy"`
	Critical bool   `json:"critical,omitempty"`
	Info     bool   `json:"informational,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Checker is a function that checks the health of a subsystem.
type Checker func(ctx context.Context) Status

// Registry holds named health checkers and runs them on demand.
type Registry struct {
	mu       sync.RWMutex
	checkers []namedChecker
}

type namedChecker struct {
	name     string
	critical bool
	info     bool
	check    Checker
}

// NewRegistry creates a new health check registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a named health checker whose failure degrades the service.
func (r *Registry) Register(name string, check Checker) {
	r.add(namedChecker{name: name, check: check})
}

// RegisterCritical adds a checker whose failure also fails readiness.
func (r *Registry) RegisterCritical(name string, check Checker) {
	r.add(namedChecker{name: name, critical: true, check: check})
}

// RegisterInfo adds a checker that is reported but never changes the
// aggregate health or readiness.
func (r *Registry) RegisterInfo(name string, check Checker) {
	r.add(namedChecker{name: name, info: true, check: check})
}

func (r *Registry) add(nc namedChecker) {
	r.mu.Lock()
	r.checkers = append(r.checkers, nc)
	r.mu.Unlock()
}

// CheckAll runs all registered checkers and returns the aggregate health
// status plus individual subsystem results. ready is false only when a
// critical checker fails.
func (r *Registry) CheckAll(ctx context.Context) (healthy, ready bool, statuses []Status) {
	r.mu.RLock()
	checkers := make([]namedChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	healthy, ready = true, true
	statuses = make([]Status, len(checkers))

	for i, nc := range checkers {
		st := nc.check(ctx)
		if st.Name == "" {
			st.Name = nc.name
		}
		st.Critical = nc.critical
		st.Info = nc.info
		statuses[i] = st
		if !st.Healthy && !nc.info {
			healthy = false
			if nc.critical {
				ready = false
			}
		}
	}

	return healthy, ready, statuses
}

// ModelChecker reports whether a classifier was loaded. version is shown as
// the detail when it was, loadErr when it was not.
func ModelChecker(loaded bool, version string, loadErr error) Checker {
	return func(context.Context) Status {
		if !loaded {
			detail := "no model loaded"
			if loadErr != nil {
				detail = loadErr.Error()
			}
			return Status{Name: "model", Healthy: false, Detail: detail}
		}
		return Status{Name: "model", Healthy: true, Detail: version}
	}
}

// SnapshotChecker reports the size of the transaction snapshot. An empty
// snapshot is unhealthy since every summary over it fails.
func SnapshotChecker(rows int) Checker {
	return func(context.Context) Status {
		if rows == 0 {
			return Status{Name: "snapshot", Healthy: false, Detail: "snapshot is empty"}
		}
		return Status{Name: "snapshot", Healthy: true, Detail: fmt.Sprintf("%d transactions", rows)}
	}
}

// PingChecker checks a dependency that exposes PingContext, such as *sql.DB.
func PingChecker(name string, p interface{ PingContext(context.Context) error }) Checker {
	return func(ctx context.Context) Status {
		if err := p.PingContext(ctx); err != nil {
			return Status{Name: name, Healthy: false, Detail: err.Error()}
		}
		return Status{Name: name, Healthy: true}
	}
}
