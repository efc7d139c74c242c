// Package uow provides the ambient unit of work: a lazily opened
// transaction shared by every function called during one inbound
// operation.
//
// A unit of work travels in a context.Context. Begin attaches one (or
// returns the one already attached), Current retrieves it, and Run scopes
// it: commit when the operation succeeds, roll back when it fails or
// panics, close on every path.
//
//	err := uow.Run(ctx, uow.SQLOpener{DB: db}, func(ctx context.Context) error {
//	    return bus.Publish(ctx, evt) // handlers call uow.SQLTx(ctx)
//	})
//
// The transaction is opened on first Session access. Units are not safe
// for use by concurrent operations, but concurrent handlers of one
// operation may share one.
package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/randalmurphal/deusvult/pkg/deusvult/observability"
)

// State is the lifecycle state of a unit of work.
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateCommitted
	StateRolledBack
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sentinel errors. Misuse of a unit of work fails fast with one of these.
var (
	// ErrFinalized is returned when a committed or rolled back unit is
	// finalized again or asked for its session.
	ErrFinalized = errors.New("unit of work already finalized")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("unit of work is closed")

	// ErrNoUnitOfWork is returned by typed accessors when ctx carries none.
	ErrNoUnitOfWork = errors.New("no unit of work in context")

	// ErrNoOpener is returned when a session is requested from a unit
	// created without an Opener.
	ErrNoOpener = errors.New("unit of work has no opener")
)

// Tx is the transactional resource held by a unit of work.
type Tx interface {
	Commit() error
	Rollback() error
}

// Opener acquires the transactional resource.
type Opener interface {
	Open(ctx context.Context) (Tx, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context) (Tx, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context) (Tx, error) {
	return f(ctx)
}

// UnitOfWork is one operation's transaction and its lifecycle.
type UnitOfWork struct {
	id     string
	opener Opener
	logger *slog.Logger

	// scope is the operation's context. The transaction opens under it,
	// never under the context of whichever handler touches it first.
	scope context.Context

	mu    sync.Mutex
	state State
	tx    Tx
}

// Option configures a new unit of work.
type Option func(*UnitOfWork)

// WithLogger sets the logger for state transitions.
func WithLogger(logger *slog.Logger) Option {
	return func(u *UnitOfWork) {
		u.logger = logger
	}
}

// WithID sets the unit's ID (default: random UUID).
func WithID(id string) Option {
	return func(u *UnitOfWork) {
		u.id = id
	}
}

// New creates an unattached unit of work. Most callers use Begin or Run.
func New(opener Opener, opts ...Option) *UnitOfWork {
	u := &UnitOfWork{
		id:     uuid.NewString(),
		opener: opener,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ID returns the unit's identifier.
func (u *UnitOfWork) ID() string {
	return u.id
}

// State returns the current lifecycle state.
func (u *UnitOfWork) State() State {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.state
}

// Session returns the transaction, opening it on first access.
func (u *UnitOfWork) Session(ctx context.Context) (Tx, error) {
	u.mu.Lock()
	defer u.mu.Unlock()

	switch u.state {
	case StateOpen:
		return u.tx, nil
	case StateClosed:
		return nil, ErrClosed
	case StateCommitted, StateRolledBack:
		return nil, ErrFinalized
	}

	if u.opener == nil {
		return nil, ErrNoOpener
	}
	scope := u.scope
	if scope == nil {
		scope = context.WithoutCancel(ctx)
	}
	tx, err := u.opener.Open(scope)
	if err != nil {
		return nil, fmt.Errorf("open unit of work %s: %w", u.id, err)
	}
	u.tx = tx
	u.transition(ctx, StateOpen)
	return tx, nil
}

// Commit commits the transaction. Committing a unit that never opened its
// transaction only records the transition.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.checkFinalizable(); err != nil {
		return err
	}

	if u.state == StateUnopened {
		u.transition(ctx, StateCommitted)
		return nil
	}

	if err := u.tx.Commit(); err != nil {
		// A failed commit leaves nothing to commit later
		_ = u.tx.Rollback()
		u.transition(ctx, StateRolledBack)
		return fmt.Errorf("commit unit of work %s: %w", u.id, err)
	}
	u.transition(ctx, StateCommitted)
	return nil
}

// Rollback rolls the transaction back.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := u.checkFinalizable(); err != nil {
		return err
	}
	return u.rollbackLocked(ctx)
}

func (u *UnitOfWork) rollbackLocked(ctx context.Context) error {
	if u.state == StateUnopened {
		u.transition(ctx, StateRolledBack)
		return nil
	}

	err := u.tx.Rollback()
	u.transition(ctx, StateRolledBack)
	if err != nil {
		return fmt.Errorf("rollback unit of work %s: %w", u.id, err)
	}
	return nil
}

func (u *UnitOfWork) checkFinalizable() error {
	switch u.state {
	case StateClosed:
		return ErrClosed
	case StateCommitted, StateRolledBack:
		return ErrFinalized
	}
	return nil
}

// Close releases the unit. A still open transaction is rolled back.
// Close is idempotent.
func (u *UnitOfWork) Close() error {
	return u.CloseContext(context.Background())
}

// CloseContext is Close with the transitions recorded on the span in ctx.
func (u *UnitOfWork) CloseContext(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.state == StateClosed {
		return nil
	}

	var err error
	if u.state == StateOpen {
		u.logger.Debug("closing open unit of work, rolling back", slog.String("uow_id", u.id))
		err = u.rollbackLocked(ctx)
	}
	u.tx = nil
	u.transition(ctx, StateClosed)
	return err
}

// transition records a state change. Caller holds u.mu.
func (u *UnitOfWork) transition(ctx context.Context, to State) {
	from := u.state
	u.state = to
	observability.LogUnitOfWork(u.logger, u.id, from.String(), to.String())
	observability.AddSpanEvent(ctx, "uow."+to.String())
}
