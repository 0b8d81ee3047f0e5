// Package rotation implements the credential-rotation finite state
// machine: its usage/failure counters and the switch procedure with
// fallback.
package rotation

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Rebinder asks the browser-session layer to rebind its live session to
// the credential at index. How that rebinding actually happens belongs
// to the browser-automation layer; cmd/server supplies the concrete
// implementation.
type Rebinder interface {
	Rebind(ctx context.Context, index int) error
}

// RebinderFunc adapts a plain function to Rebinder.
type RebinderFunc func(ctx context.Context, index int) error

// Rebind implements Rebinder.
func (f RebinderFunc) Rebind(ctx context.Context, index int) error { return f(ctx, index) }

// ErrFatal is returned by Switch/SwitchToNext when both the primary switch
// and its fallback failed.
type ErrFatal struct {
	Target   int
	Fallback int
	Cause    error
}

func (e *ErrFatal) Error() string {
	return fmt.Sprintf("rotation: switch to %d and fallback to %d both failed: %v", e.Target, e.Fallback, e.Cause)
}

func (e *ErrFatal) Unwrap() error { return e.Cause }

// Controller owns the rotation FSM: currentIndex, usageCount,
// failureCount, activeRequestCount, pendingSwitch, isSwitching,
// isSystemBusy, guarded by a single mutex.
type Controller struct {
	mu sync.Mutex

	availableIndices []int
	currentIndex     int

	usageCount         int32
	failureCount       int32
	activeRequestCount int32
	pendingSwitch      bool
	isSwitching        bool
	isSystemBusy       bool

	failureThreshold            int32
	switchOnUses                int32
	immediateSwitchStatusCodes  map[int]struct{}

	rebind Rebinder
}

// Config carries the rotation policy's decision inputs.
type Config struct {
	FailureThreshold           int32
	SwitchOnUses               int32
	ImmediateSwitchStatusCodes map[int]struct{}
}

// New creates a Controller starting at initialIndex (or availableIndices[0]
// if initialIndex isn't present in the list).
func New(availableIndices []int, initialIndex int, cfg Config, rebind Rebinder) *Controller {
	current := initialIndex
	if !contains(availableIndices, current) && len(availableIndices) > 0 {
		current = availableIndices[0]
	}
	statuses := cfg.ImmediateSwitchStatusCodes
	if statuses == nil {
		statuses = map[int]struct{}{}
	}
	return &Controller{
		availableIndices:           append([]int(nil), availableIndices...),
		currentIndex:               current,
		failureThreshold:           cfg.FailureThreshold,
		switchOnUses:               cfg.SwitchOnUses,
		immediateSwitchStatusCodes: statuses,
		rebind:                     rebind,
	}
}

// CurrentIndex returns the credential index currently bound.
func (c *Controller) CurrentIndex() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentIndex
}

// IsSystemBusy reports whether the controller considers itself unable to
// serve requests right now (while a switch or a silent-recovery attempt
// is running).
func (c *Controller) IsSystemBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isSystemBusy
}

// SetSystemBusy is used by the coordinator's silent-recovery path to mark
// busy state before attempting to re-establish the agent link and to
// clear it afterwards.
func (c *Controller) SetSystemBusy(busy bool) {
	c.mu.Lock()
	c.isSystemBusy = busy
	c.mu.Unlock()
}

// GateStatus is what the coordinator's entry gate needs to decide
// whether to accept a request.
type GateStatus struct {
	PendingSwitch bool
	IsSwitching   bool
}

// Status returns a snapshot of the switch-related flags.
func (c *Controller) Status() GateStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return GateStatus{PendingSwitch: c.pendingSwitch, IsSwitching: c.isSwitching}
}

// Snapshot is the full rotation state exposed by the operator status
// endpoint.
type Snapshot struct {
	CurrentIndex       int
	UsageCount         int32
	FailureCount       int32
	ActiveRequestCount int32
	PendingSwitch      bool
	IsSwitching        bool
	IsSystemBusy       bool
	AvailableIndices   []int
}

// Snapshot returns a consistent point-in-time copy of the whole FSM
// state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		CurrentIndex:       c.currentIndex,
		UsageCount:         c.usageCount,
		FailureCount:       c.failureCount,
		ActiveRequestCount: c.activeRequestCount,
		PendingSwitch:      c.pendingSwitch,
		IsSwitching:        c.isSwitching,
		IsSystemBusy:       c.isSystemBusy,
		AvailableIndices:   append([]int(nil), c.availableIndices...),
	}
}

// EnterActive increments activeRequestCount alone. Call this at gate
// entry, before the live-connection/system-busy checks; a request
// rejected by those checks must never have counted toward usageCount,
// so usage accounting is a separate call (RecordUsage) issued only once
// those checks pass.
func (c *Controller) EnterActive() {
	c.mu.Lock()
	c.activeRequestCount++
	c.mu.Unlock()
}

// RecordUsage increments usageCount for generative requests iff
// pendingSwitch is false, arming a pending switch if the usage
// threshold is now met. Call this only after a request has cleared the
// live-connection/system-busy gate checks and is actually being
// dispatched to the upstream.
func (c *Controller) RecordUsage(isGenerative bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if isGenerative && !c.pendingSwitch {
		c.usageCount++
		if c.switchOnUses > 0 && c.usageCount >= c.switchOnUses {
			c.pendingSwitch = true
			log.WithField("usage_count", c.usageCount).Info("rotation: usage threshold reached, pending switch armed")
		}
	}
}

// LeaveRequest decrements activeRequestCount. Callers must call this
// exactly once per EnterActive, from a guaranteed-release scope.
func (c *Controller) LeaveRequest() {
	c.mu.Lock()
	if c.activeRequestCount > 0 {
		c.activeRequestCount--
	}
	c.mu.Unlock()
}

// RecordSuccess resets failureCount to 0 (not usageCount) on any
// in-request success.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	c.failureCount = 0
	c.mu.Unlock()
}

// RecordFailure increments failureCount and reports whether the
// failure threshold trigger now fires. Call IsImmediateSwitchStatus
// separately for status-code-triggered rotation.
func (c *Controller) RecordFailure() (shouldSwitch bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failureCount++
	if c.failureThreshold > 0 && c.failureCount >= c.failureThreshold {
		return true
	}
	return false
}

// IsImmediateSwitchStatus reports whether status is in the configured
// immediate-switch set.
func (c *Controller) IsImmediateSwitchStatus(status int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.immediateSwitchStatusCodes[status]
	return ok
}

// TryExecutePendingSwitch is the drain hook the coordinator calls after
// every request completes: if pendingSwitch ∧ ¬isSwitching ∧
// activeRequestCount = 0, it performs the switch. The isSwitching flag
// is set under the same lock as the check, so two concurrent callers
// can never both launch a switch.
func (c *Controller) TryExecutePendingSwitch(ctx context.Context) {
	c.mu.Lock()
	if !(c.pendingSwitch && !c.isSwitching && c.activeRequestCount == 0) {
		c.mu.Unlock()
		return
	}
	c.isSwitching = true
	c.mu.Unlock()

	c.runSwitch(ctx)
}

// Switch performs an immediate rotation (failure threshold, immediate
// status, or manual trigger), skipping the drain wait. A manual switch
// with activeRequestCount > 0 is allowed but logged as a warning.
func (c *Controller) Switch(ctx context.Context, target int) error {
	c.mu.Lock()
	if c.isSwitching {
		c.mu.Unlock()
		return nil
	}
	if c.activeRequestCount > 0 {
		log.WithField("active_requests", c.activeRequestCount).Warn("rotation: switching with requests still in flight")
	}
	c.isSwitching = true
	c.mu.Unlock()

	return c.runSwitchTo(ctx, target)
}

func (c *Controller) runSwitch(ctx context.Context) {
	c.mu.Lock()
	next := c.nextIndexLocked()
	c.mu.Unlock()

	_ = c.runSwitchTo(ctx, next)
}

// SwitchToNext performs an immediate rotation to the next available
// index, the same step a failure-threshold or immediate-switch-status
// trigger takes. Skips the drain wait, like Switch.
func (c *Controller) SwitchToNext(ctx context.Context) error {
	c.mu.Lock()
	if c.isSwitching {
		c.mu.Unlock()
		return nil
	}
	if c.activeRequestCount > 0 {
		log.WithField("active_requests", c.activeRequestCount).Warn("rotation: switching with requests still in flight")
	}
	next := c.nextIndexLocked()
	c.isSwitching = true
	c.mu.Unlock()

	return c.runSwitchTo(ctx, next)
}

func (c *Controller) runSwitchTo(ctx context.Context, target int) error {
	c.mu.Lock()
	c.isSystemBusy = true
	previous := c.currentIndex
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.isSwitching = false
		c.isSystemBusy = false
		c.mu.Unlock()
	}()

	if err := c.rebind.Rebind(ctx, target); err != nil {
		log.WithError(err).WithFields(log.Fields{"target": target, "previous": previous}).
			Warn("rotation: switch failed, attempting fallback")

		if fbErr := c.rebind.Rebind(ctx, previous); fbErr != nil {
			log.WithError(fbErr).Error("rotation: fallback also failed, surfacing fatal")
			return &ErrFatal{Target: target, Fallback: previous, Cause: fbErr}
		}

		c.mu.Lock()
		c.currentIndex = previous
		c.usageCount = 0
		c.failureCount = 0
		c.pendingSwitch = false
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.currentIndex = target
	c.usageCount = 0
	c.failureCount = 0
	c.pendingSwitch = false
	c.mu.Unlock()

	log.WithFields(log.Fields{"from": previous, "to": target}).Info("rotation: switch succeeded")
	return nil
}

func (c *Controller) nextIndexLocked() int {
	n := len(c.availableIndices)
	if n == 0 {
		return c.currentIndex
	}
	pos := indexOf(c.availableIndices, c.currentIndex)
	if pos < 0 {
		return c.availableIndices[0]
	}
	return c.availableIndices[(pos+1)%n]
}

// SetAvailableIndices updates the rotation candidate list, e.g. after a
// credential hot-reload changes which indices are valid.
func (c *Controller) SetAvailableIndices(indices []int) {
	c.mu.Lock()
	c.availableIndices = append([]int(nil), indices...)
	c.mu.Unlock()
}

func contains(xs []int, v int) bool { return indexOf(xs, v) >= 0 }

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
