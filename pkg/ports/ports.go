// Package ports yields candidate external noVNC ports from the configured
// pool. No reservation is kept here; binding at the runtime is the effective
// reservation, so the pool is consulted fresh on every provisioning attempt.
package ports

import (
	"github.com/samber/lo"

	"github.com/jaewoo-rain/webide/pkg/errs"
)

// Pool is an ordered, static set of candidate external ports.
type Pool struct {
	ports []int
}

// NewPool copies the configured port list. Order is preserved; duplicates
// are dropped.
func NewPool(ports []int) *Pool {
	return &Pool{ports: lo.Uniq(ports)}
}

// Size returns the number of candidate ports.
func (p *Pool) Size() int {
	return len(p.ports)
}

// Contains reports whether port belongs to the pool.
func (p *Pool) Contains(port int) bool {
	return lo.Contains(p.ports, port)
}

// Candidates returns the ports for which inUse is false, in pool order.
// inUse typically closes over the runtime's current instance list.
func (p *Pool) Candidates(inUse func(port int) bool) []int {
	return lo.Filter(p.ports, func(port int, _ int) bool {
		return !inUse(port)
	})
}

// First returns the first free port, or Exhausted when every port is taken.
func (p *Pool) First(inUse func(port int) bool) (int, error) {
	for _, port := range p.ports {
		if !inUse(port) {
			return port, nil
		}
	}
	return 0, errs.New(errs.KindExhausted, "no free external port in pool of %d", len(p.ports))
}
