// Package health aggregates component health checks for the HTTP server.
package health

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the health of a component or of the whole service.
type State string

const (
	StateHealthy   State = "healthy"
	StateUnhealthy State = "unhealthy"
)

// CheckFunc reports a component as unhealthy by returning an error.
type CheckFunc func(ctx context.Context) error

// ComponentHealth is the result of one check.
type ComponentHealth struct {
	Name     string        `json:"name"`
	Status   State         `json:"status"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Report is the result of running every registered check.
type Report struct {
	Overall    State             `json:"overall"`
	Timestamp  time.Time         `json:"timestamp"`
	Components []ComponentHealth `json:"components"`
}

// Checker runs named checks concurrently, each bounded by a timeout.
type Checker struct {
	timeout time.Duration
	logger  *logrus.Logger

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewChecker creates a checker. A timeout ≤ 0 defaults to five seconds.
func NewChecker(timeout time.Duration, logger *logrus.Logger) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{
		timeout: timeout,
		logger:  logger,
		checks:  make(map[string]CheckFunc),
	}
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs every check and reports components sorted by name.
func (c *Checker) Check(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	results := make(chan ComponentHealth, len(checks))
	var wg sync.WaitGroup
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()
			results <- c.run(ctx, name, fn)
		}(name, fn)
	}
	wg.Wait()
	close(results)

	report := Report{Overall: StateHealthy, Timestamp: time.Now().UTC()}
	for r := range results {
		if r.Status != StateHealthy {
			report.Overall = StateUnhealthy
		}
		report.Components = append(report.Components, r)
	}
	sort.Slice(report.Components, func(i, j int) bool {
		return report.Components[i].Name < report.Components[j].Name
	})
	return report
}

func (c *Checker) run(ctx context.Context, name string, fn CheckFunc) ComponentHealth {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	result := ComponentHealth{Name: name, Status: StateHealthy, Duration: time.Since(start)}
	if err != nil {
		result.Status = StateUnhealthy
		result.Error = err.Error()
		c.logger.WithFields(logrus.Fields{
			"component": name,
			"error":     err,
		}).Warn("Health check failed")
	}
	return result
}

// Healthy runs every check and returns an error naming the failed components.
func (c *Checker) Healthy(ctx context.Context) error {
	report := c.Check(ctx)
	if report.Overall == StateHealthy {
		return nil
	}
	var errs []error
	for _, comp := range report.Components {
		if comp.Status != StateHealthy {
			errs = append(errs, fmt.Errorf("%s: %s", comp.Name, comp.Error))
		}
	}
	return errors.Join(errs...)
}
