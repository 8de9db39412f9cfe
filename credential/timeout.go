package credential

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// DefaultTimeout bounds a remote verifier call when no timeout is configured.
const DefaultTimeout = 5 * time.Second

type bounded struct {
	next    Verifier
	timeout time.Duration
}

// WithTimeout bounds every call on v by d and maps timeouts and transport failures to
// ErrServiceUnavailable. Sentinel outcomes from v pass through unchanged. The call returns
// at the deadline even if v ignores its context.
func WithTimeout(v Verifier, d time.Duration) Verifier {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &bounded{next: v, timeout: d}
}

func (b *bounded) Source() Source { return b.next.Source() }

func (b *bounded) Authenticate(ctx context.Context, username, password string) (*UserInfo, error) {
	return b.call(ctx, func(ctx context.Context) (*UserInfo, error) {
		return b.next.Authenticate(ctx, username, password)
	})
}

func (b *bounded) GetUser(ctx context.Context, username string) (*UserInfo, error) {
	return b.call(ctx, func(ctx context.Context) (*UserInfo, error) {
		return b.next.GetUser(ctx, username)
	})
}

func (b *bounded) TestConnection(ctx context.Context) error {
	_, err := b.call(ctx, func(ctx context.Context) (*UserInfo, error) {
		return nil, b.next.TestConnection(ctx)
	})
	return err
}

type callResult struct {
	info *UserInfo
	err  error
}

func (b *bounded) call(ctx context.Context, fn func(context.Context) (*UserInfo, error)) (*UserInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		info, err := fn(ctx)
		done <- callResult{info: info, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return nil, mapRemoteError(ctx, res.err)
		}
		return res.info, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, ctx.Err())
	}
}

func mapRemoteError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrUserInactive),
		errors.Is(err, ErrServiceUnavailable):
		return err
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, ctx.Err())
	}
	// Anything else from a remote source is transport or provider trouble, never a bad password.
	return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
}
