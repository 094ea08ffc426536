package chain

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

// Clock supplies the block time of a top-level call.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// Host is the execution environment contracts run in. Every top-level call
// runs inside one database transaction and is serialized with every other
// call. A call made while a frame is already active in the context runs as
// a nested frame on a savepoint of the same transaction.
type Host struct {
	db    *gorm.DB
	clock Clock
	mu    sync.RWMutex
}

func NewHost(db *gorm.DB, clock Clock) *Host {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Host{db: db, clock: clock}
}

// DB returns the underlying database handle.
func (h *Host) DB() *gorm.DB {
	return h.db
}

// Frame is the state of one call in progress.
type Frame struct {
	tx          *gorm.DB
	blockTime   time.Time
	depth       int
	afterCommit []func()
}

// Tx is the transaction all reads and writes of the call must go through.
func (f *Frame) Tx() *gorm.DB {
	return f.tx
}

// BlockTime is fixed when the top-level call starts and shared by nested frames.
func (f *Frame) BlockTime() time.Time {
	return f.blockTime
}

// Depth is 0 for a top-level call.
func (f *Frame) Depth() int {
	return f.depth
}

// AfterCommit schedules fn to run once the top-level transaction commits.
// Callbacks of a frame that fails are dropped.
func (f *Frame) AfterCommit(fn func()) {
	f.afterCommit = append(f.afterCommit, fn)
}

type frameKey struct{}

// FrameFromContext returns the frame active in ctx, if any.
func FrameFromContext(ctx context.Context) (*Frame, bool) {
	f, ok := ctx.Value(frameKey{}).(*Frame)
	return f, ok
}

// Execute runs fn as a call. Any error returned by fn reverts every write
// made by fn and by the calls it made.
func (h *Host) Execute(ctx context.Context, fn func(ctx context.Context, f *Frame) error) error {
	if parent, ok := FrameFromContext(ctx); ok {
		return h.executeNested(ctx, parent, fn)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	frame := &Frame{blockTime: h.clock.Now()}
	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		frame.tx = tx
		return fn(context.WithValue(ctx, frameKey{}, frame), frame)
	})
	if err != nil {
		return err
	}

	for _, cb := range frame.afterCommit {
		cb()
	}
	return nil
}

func (h *Host) executeNested(ctx context.Context, parent *Frame, fn func(ctx context.Context, f *Frame) error) error {
	child := &Frame{blockTime: parent.blockTime, depth: parent.depth + 1}

	// gorm opens a savepoint when Transaction is called on a transaction
	err := parent.tx.Transaction(func(tx *gorm.DB) error {
		child.tx = tx
		return fn(context.WithValue(ctx, frameKey{}, child), child)
	})
	if err != nil {
		return err
	}

	parent.afterCommit = append(parent.afterCommit, child.afterCommit...)
	return nil
}

// View runs a read-only fn. Inside a call it reads the call's uncommitted
// state, otherwise it waits for the running call to finish.
func (h *Host) View(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if f, ok := FrameFromContext(ctx); ok {
		return fn(f.tx)
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h.db.WithContext(ctx))
}
