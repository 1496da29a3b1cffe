// Package session drives the recording-session lifecycle on top of the
// session store and enforces that at most one session is live at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roach88/capsync/internal/model"
)

var (
	// ErrSessionActive is returned by Begin while another session is live.
	ErrSessionActive = errors.New("session: another session is active")
	// ErrNoActiveSession is returned by lifecycle calls with nothing live.
	ErrNoActiveSession = errors.New("session: no active session")
)

// Store is the persistence surface the controller writes through.
type Store interface {
	InsertSession(ctx context.Context, st model.SessionState) error
	UpdateSession(ctx context.Context, st model.SessionState) error
	GetSession(ctx context.Context, id string) (model.SessionState, error)
}

// Options selects the modalities a new session records.
type Options struct {
	Video     bool
	Raw       bool
	BioSignal bool
	Devices   []model.DeviceState
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithIDGenerator overrides the session ID source.
func WithIDGenerator(ids model.IDGenerator) Option {
	return func(c *Controller) { c.ids = ids }
}

// WithWallClock overrides the wall clock for CreatedAt/StartTime/EndTime.
func WithWallClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller owns the active session. All methods are safe for concurrent
// use; at most one session is between Begin and its terminal state.
type Controller struct {
	store  Store
	ids    model.IDGenerator
	logger *slog.Logger
	now    func() time.Time

	// active holds the live session ID; nil when idle.
	active atomic.Pointer[string]

	// opMu serializes lifecycle writes for the live session.
	opMu sync.Mutex
}

// New creates a Controller.
func New(st Store, opts ...Option) *Controller {
	c := &Controller{
		store:  st,
		ids:    model.UUIDv7Generator{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Active returns the live session ID, or "".
func (c *Controller) Active() string {
	if p := c.active.Load(); p != nil {
		return *p
	}
	return ""
}

func (c *Controller) claim(id string) bool {
	return c.active.CompareAndSwap(nil, &id)
}

func (c *Controller) release(id string) {
	if p := c.active.Load(); p != nil && *p == id {
		c.active.CompareAndSwap(p, nil)
	}
}

// Begin creates a session in Starting and makes it the active session.
func (c *Controller) Begin(ctx context.Context, opts Options) (model.SessionState, error) {
	id := c.ids.Generate()
	if !c.claim(id) {
		return model.SessionState{}, ErrSessionActive
	}

	nowMs := c.now().UnixMilli()
	st := model.SessionState{
		SessionID:        id,
		RecordingState:   model.StateStarting,
		DeviceStates:     opts.Devices,
		CreatedAt:        nowMs,
		StartTime:        nowMs,
		VideoEnabled:     opts.Video,
		RawEnabled:       opts.Raw,
		BioSignalEnabled: opts.BioSignal,
	}
	if err := c.store.InsertSession(ctx, st); err != nil {
		c.release(id)
		return model.SessionState{}, fmt.Errorf("begin session: %w", err)
	}
	c.logger.Info("session: started", "session_id", id)
	return st, nil
}

// MarkRecording moves the active session to Recording.
func (c *Controller) MarkRecording(ctx context.Context) (model.SessionState, error) {
	return c.transition(ctx, func(st *model.SessionState) {
		st.RecordingState = model.StateRecording
	})
}

// Stop moves the active session through Stopping to Completed and releases
// the active slot.
func (c *Controller) Stop(ctx context.Context) (model.SessionState, error) {
	if _, err := c.transition(ctx, func(st *model.SessionState) {
		st.RecordingState = model.StateStopping
	}); err != nil {
		return model.SessionState{}, err
	}
	return c.transition(ctx, func(st *model.SessionState) {
		st.RecordingState = model.StateCompleted
		st.EndTime = c.now().UnixMilli()
	})
}

// Fail moves the active session to Failed with msg and releases the slot.
func (c *Controller) Fail(ctx context.Context, msg string) (model.SessionState, error) {
	return c.transition(ctx, func(st *model.SessionState) {
		st.RecordingState = model.StateFailed
		st.ErrorOccurred = true
		st.ErrorMessage = msg
		st.EndTime = c.now().UnixMilli()
	})
}

// UpdateDeviceStates replaces the device snapshot of the active session
// without changing its state.
func (c *Controller) UpdateDeviceStates(ctx context.Context, devices []model.DeviceState) (model.SessionState, error) {
	return c.transition(ctx, func(st *model.SessionState) {
		st.DeviceStates = devices
	})
}

// transition applies mutate to the persisted active session and writes it
// back. The slot is released once the session reaches a terminal state.
func (c *Controller) transition(ctx context.Context, mutate func(*model.SessionState)) (model.SessionState, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	id := c.Active()
	if id == "" {
		return model.SessionState{}, ErrNoActiveSession
	}

	st, err := c.store.GetSession(ctx, id)
	if err != nil {
		return model.SessionState{}, fmt.Errorf("session %s: %w", id, err)
	}
	from := st.RecordingState
	mutate(&st)

	if err := c.store.UpdateSession(ctx, st); err != nil {
		return model.SessionState{}, fmt.Errorf("session %s: %w", id, err)
	}
	if st.RecordingState != from {
		c.logger.Info("session: transition", "session_id", id, "from", from, "to", st.RecordingState)
	}
	if st.RecordingState.Terminal() {
		c.release(id)
	}
	return st, nil
}
