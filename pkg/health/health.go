package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"user-management-api/backend/pkg/logger"
)

// Status represents the health status of a component
type Status string

const (
	// StatusUp indicates a component is working correctly
	StatusUp Status = "up"
	// StatusDown indicates a component is not working
	StatusDown Status = "down"
	// StatusDegraded indicates a non-critical component is down
	StatusDegraded Status = "degraded"
)

// Component is the last observed state of one checked dependency
type Component struct {
	Name        string        `json:"name"`
	Status      Status        `json:"status"`
	Critical    bool          `json:"critical"`
	Description string        `json:"description,omitempty"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency_ns"`
	LastChecked time.Time     `json:"last_checked"`
}

// Report is the outcome of one round of checks
type Report struct {
	Status     Status      `json:"status"`
	Timestamp  time.Time   `json:"timestamp"`
	Components []Component `json:"components"`
}

// Check probes a dependency; a non-nil error marks it down
type Check func(ctx context.Context) (string, error)

type registration struct {
	check    Check
	critical bool
}

// Checker runs registered health checks on demand
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]registration
	timeout time.Duration
	log     *logger.Logger
}

// NewChecker creates a checker whose checks are each bounded by timeout
func NewChecker(log *logger.Logger, timeout time.Duration) *Checker {
	if log == nil {
		log = logger.GetGlobal()
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Checker{
		checks:  make(map[string]registration),
		timeout: timeout,
		log:     log,
	}
}

// RegisterCheck registers a new health check. A failing critical check makes
// the whole service down; a failing non-critical one only degrades it.
func (c *Checker) RegisterCheck(name string, critical bool, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = registration{check: check, critical: critical}
}

// Run executes every check concurrently and aggregates the result
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	names := make([]string, 0, len(c.checks))
	regs := make([]registration, 0, len(c.checks))
	for name, reg := range c.checks {
		names = append(names, name)
		regs = append(regs, reg)
	}
	c.mu.RUnlock()

	components := make([]Component, len(names))
	var wg sync.WaitGroup
	for i := range names {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			components[i] = c.runOne(ctx, names[i], regs[i])
		}(i)
	}
	wg.Wait()

	sort.Slice(components, func(i, j int) bool { return components[i].Name < components[j].Name })

	report := Report{Status: StatusUp, Timestamp: time.Now().UTC(), Components: components}
	for _, comp := range components {
		if comp.Status != StatusDown {
			continue
		}
		if comp.Critical {
			report.Status = StatusDown
			break
		}
		report.Status = StatusDegraded
	}
	return report
}

func (c *Checker) runOne(ctx context.Context, name string, reg registration) Component {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	description, err := reg.check(ctx)
	comp := Component{
		Name:        name,
		Status:      StatusUp,
		Critical:    reg.critical,
		Description: description,
		Latency:     time.Since(start),
		LastChecked: time.Now().UTC(),
	}
	if err != nil {
		comp.Status = StatusDown
		comp.Error = err.Error()
		c.log.Error("Health check failed",
			"component", name,
			"error", err.Error(),
		)
	}
	return comp
}
