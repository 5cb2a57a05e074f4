package automation

import (
	"context"
	"fmt"
	"time"

	"outreach/models"
)

// Credentials authenticate an execution context against the external surface
type Credentials struct {
	UserID   uint
	Username string
	Password string
}

// String never prints the password
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{user=%d username=%s password=REDACTED}", c.UserID, c.Username)
}

// GoString keeps %#v from leaking the password
func (c Credentials) GoString() string {
	return c.String()
}

// CredentialSource resolves the credentials of a user's outreach account
type CredentialSource interface {
	Credentials(ctx context.Context, userID uint) (Credentials, error)
}

// ExecutionContext is an open, authenticated session on the external surface
type ExecutionContext struct {
	ID     string
	UserID uint
}

// Action is a single step invocation
type Action struct {
	Type    models.StepType
	Target  string
	Content string
}

// ActionExecutor performs step actions. Every context returned by Open
// is passed to Close exactly once, even after Execute fails.
type ActionExecutor interface {
	Open(ctx context.Context, creds Credentials) (*ExecutionContext, error)
	Execute(ctx context.Context, ec *ExecutionContext, action Action) error
	Close(ctx context.Context, ec *ExecutionContext) error
}

type timeoutExecutor struct {
	next    ActionExecutor
	timeout time.Duration
}

// WithTimeout bounds every executor call. A call that does not return within
// d surfaces as ErrActionTimeout; the hung call is abandoned. A context that an
// abandoned Open still manages to return is closed in the background.
func WithTimeout(next ActionExecutor, d time.Duration) ActionExecutor {
	if d <= 0 {
		return next
	}
	return &timeoutExecutor{next: next, timeout: d}
}

func (t *timeoutExecutor) Open(ctx context.Context, creds Credentials) (*ExecutionContext, error) {
	late := func(ec *ExecutionContext) {
		if ec != nil {
			_ = t.Close(context.WithoutCancel(ctx), ec)
		}
	}
	return withDeadline(ctx, t.timeout, func(ctx context.Context) (*ExecutionContext, error) {
		return t.next.Open(ctx, creds)
	}, late)
}

func (t *timeoutExecutor) Execute(ctx context.Context, ec *ExecutionContext, action Action) error {
	_, err := withDeadline(ctx, t.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.Execute(ctx, ec, action)
	}, nil)
	return err
}

func (t *timeoutExecutor) Close(ctx context.Context, ec *ExecutionContext) error {
	_, err := withDeadline(ctx, t.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, t.next.Close(ctx, ec)
	}, nil)
	return err
}

type result[T any] struct {
	value T
	err   error
}

// withDeadline runs fn under a deadline. When fn outlives it, late (if set)
// receives the value fn eventually returns without error.
func withDeadline[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error), late func(T)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	done := make(chan result[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[T]{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		if late != nil {
			go func() {
				if r := <-done; r.err == nil {
					late(r.value)
				}
			}()
		}
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, fmt.Errorf("%w after %s", ErrActionTimeout, d)
		}
		return zero, ctx.Err()
	}
}
