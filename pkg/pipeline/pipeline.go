// Package pipeline composes the request stages into an ordered gin chain.
package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
)

// Stage names a pipeline stage
type Stage string

// Known stages
const (
	StageFailureBarrier Stage = "failure_barrier"
	StageRateLimit      Stage = "rate_limit"
	StageAuth           Stage = "auth"
	StageAudit          Stage = "audit"
)

// DefaultOrder runs the barrier first so every later stage is covered by it
var DefaultOrder = []Stage{StageFailureBarrier, StageRateLimit, StageAuth, StageAudit}

// ErrInvalidOrder is returned for an order that is not a permutation of the
// known stages starting with the failure barrier.
var ErrInvalidOrder = errors.New("invalid pipeline order")

var known = map[Stage]bool{
	StageFailureBarrier: true,
	StageRateLimit:      true,
	StageAuth:           true,
	StageAudit:          true,
}

// ParseOrder converts stage names into a validated order. Names are trimmed
// and matched case-insensitively; an empty list yields DefaultOrder.
func ParseOrder(names []string) ([]Stage, error) {
	var order []Stage
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		order = append(order, Stage(n))
	}
	if len(order) == 0 {
		return append([]Stage(nil), DefaultOrder...), nil
	}
	if err := Validate(order); err != nil {
		return nil, err
	}
	return order, nil
}

// Validate checks that order names every known stage exactly once and starts
// with the failure barrier.
func Validate(order []Stage) error {
	seen := make(map[Stage]bool, len(order))
	for _, s := range order {
		if !known[s] {
			return fmt.Errorf("%w: unknown stage %q", ErrInvalidOrder, s)
		}
		if seen[s] {
			return fmt.Errorf("%w: stage %q listed twice", ErrInvalidOrder, s)
		}
		seen[s] = true
	}
	for s := range known {
		if !seen[s] {
			return fmt.Errorf("%w: stage %q missing", ErrInvalidOrder, s)
		}
	}
	if order[0] != StageFailureBarrier {
		return fmt.Errorf("%w: %q must be first", ErrInvalidOrder, StageFailureBarrier)
	}
	return nil
}

// Pipeline is an ordered, immutable set of stage handlers
type Pipeline struct {
	order    []Stage
	handlers gin.HandlersChain
}

// New builds a pipeline running stages in order
func New(order []Stage, stages map[Stage]gin.HandlerFunc) (*Pipeline, error) {
	if err := Validate(order); err != nil {
		return nil, err
	}

	handlers := make(gin.HandlersChain, 0, len(order))
	for _, s := range order {
		h, ok := stages[s]
		if !ok || h == nil {
			return nil, fmt.Errorf("%w: no handler for stage %q", ErrInvalidOrder, s)
		}
		handlers = append(handlers, h)
	}

	return &Pipeline{
		order:    append([]Stage(nil), order...),
		handlers: handlers,
	}, nil
}

// Stages returns the stage order
func (p *Pipeline) Stages() []Stage {
	return append([]Stage(nil), p.order...)
}

// Handlers returns the stage handlers in order, for use with RouterGroup.Use
func (p *Pipeline) Handlers() gin.HandlersChain {
	return append(gin.HandlersChain(nil), p.handlers...)
}

// Wrap returns the stage handlers followed by the terminal handlers
func (p *Pipeline) Wrap(terminal ...gin.HandlerFunc) gin.HandlersChain {
	chain := make(gin.HandlersChain, 0, len(p.handlers)+len(terminal))
	chain = append(chain, p.handlers...)
	return append(chain, terminal...)
}

// String renders the order as a comma-separated list
func (p *Pipeline) String() string {
	names := make([]string, len(p.order))
	for i, s := range p.order {
		names[i] = string(s)
	}
	return strings.Join(names, ",")
}
