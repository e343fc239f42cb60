// Package routing selects which normalisation variant of a case is handed to
// each ensemble member. The variant resident on the device is cached and
// reused while consecutive members ask for the same variant; asking for the
// other variant releases the cached one and stages the new one.
package routing

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"segensemble/internal/models"
)

var routed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "segensemble_router_requests_total",
	Help: "Input selections by the normalisation router, by whether a device transfer was needed",
}, []string{"result"})

// Staged is a prepared input variant resident on the device. Handle is owned
// by the Stager that produced it.
type Staged struct {
	Input  models.Prepared
	Handle any
}

// Stager moves prepared inputs to and from the device
type Stager interface {
	Stage(v models.Normalization) (*Staged, error)
	Unstage(s *Staged) error
}

// Router is a one-entry cache keyed by normalisation variant. It is used for
// a single case and must be released when the case is done.
type Router struct {
	stager  Stager
	current *Staged

	transfers int
	reuses    int
}

// NewRouter creates an empty router; the first Route always transfers
func NewRouter(s Stager) *Router {
	return &Router{stager: s}
}

// Route returns the staged input for variant v and whether it was reused
// from the previous call without a transfer
func (r *Router) Route(v models.Normalization) (*Staged, bool, error) {
	if !v.Valid() {
		return nil, false, fmt.Errorf("unknown normalisation %q", v)
	}
	if r.current != nil && r.current.Input.Variant == v {
		r.reuses++
		routed.WithLabelValues("reuse").Inc()
		return r.current, true, nil
	}

	if err := r.Release(); err != nil {
		return nil, false, err
	}
	staged, err := r.stager.Stage(v)
	if err != nil {
		return nil, false, fmt.Errorf("staging %s input: %w", v, err)
	}
	r.current = staged
	r.transfers++
	routed.WithLabelValues("transfer").Inc()
	return staged, false, nil
}

// Release drops the cached input
func (r *Router) Release() error {
	if r.current == nil {
		return nil
	}
	s := r.current
	r.current = nil
	return r.stager.Unstage(s)
}

// Transfers returns how many times an input was staged
func (r *Router) Transfers() int {
	return r.transfers
}

// Reuses returns how many routes were served from the cache
func (r *Router) Reuses() int {
	return r.reuses
}
