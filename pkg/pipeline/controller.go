// Package pipeline owns run control (pause/resume/stop) and the orchestrator
// that executes the analysis phases in order.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/models"
)

// Controller models run state for one analysis run. Every batch in every
// phase calls CheckContinue at its boundary; in-flight LLM calls are allowed
// to finish, and the pipeline aborts at the next boundary.
type Controller struct {
	mu      sync.Mutex
	state   models.RunState
	paused  bool
	stopped bool
	// resume is closed to broadcast a resume; recreated on each pause.
	resume chan struct{}

	logger *zap.Logger
}

// NewController creates an idle controller.
func NewController(logger *zap.Logger) *Controller {
	return &Controller{
		state:  models.StateIdle,
		resume: closedChan(),
		logger: logger.Named("pipeline-control"),
	}
}

func closedChan() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// CheckContinue is the blocking control primitive. It returns false
// immediately if the run is stopped, blocks until resumed while paused, and
// returns true otherwise. A cancelled context counts as stopped.
func (c *Controller) CheckContinue(ctx context.Context) bool {
	for {
		c.mu.Lock()
		if c.stopped {
			c.mu.Unlock()
			return false
		}
		if !c.paused {
			c.mu.Unlock()
			return true
		}
		resume := c.resume
		c.mu.Unlock()

		select {
		case <-resume:
		case <-ctx.Done():
			return false
		}
	}
}

// Pause closes the continue gate. Running batches finish; the next
// CheckContinue blocks.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.paused || c.stopped {
		return
	}
	c.paused = true
	c.resume = make(chan struct{})
	c.logger.Info("pipeline paused")
}

// Resume reopens the gate and broadcasts to all waiters.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.paused {
		return
	}
	c.paused = false
	close(c.resume)
	c.logger.Info("pipeline resumed")
}

// Stop marks the run stopped and opens both gates so every waiter unblocks
// and then observes the stop flag.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true
	if c.paused {
		c.paused = false
		close(c.resume)
	}
	c.logger.Info("pipeline stop requested")
}

// Reset returns the controller to idle for a new run.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = models.StateIdle
	c.stopped = false
	if c.paused {
		c.paused = false
		close(c.resume)
	}
	c.resume = closedChan()
}

// SetState records the current run phase.
func (c *Controller) SetState(state models.RunState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = state
}

// Status is the externally visible controller state.
type Status struct {
	State     models.RunState `json:"state"`
	Paused    bool            `json:"paused"`
	Stopped   bool            `json:"stopped"`
	Timestamp time.Time       `json:"timestamp"`
}

// GetStatus returns a snapshot of the run state.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		State:     c.state,
		Paused:    c.paused,
		Stopped:   c.stopped,
		Timestamp: time.Now(),
	}
}

// IsStopped reports the stop flag without blocking.
func (c *Controller) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
