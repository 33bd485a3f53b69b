// Package identity verifies bearer credentials and produces the principal
// that scopes every store lookup and tool invocation.
package identity

import (
	"context"
	"errors"
)

// ErrUnauthenticated is the single rejection surfaced for any credential
// problem. Malformed, expired, and unknown tokens are deliberately
// indistinguishable to callers.
var ErrUnauthenticated = errors.New("unauthenticated")

// Principal is the verified identity of the current request. It is threaded
// explicitly through every layer, never stored in process-global state.
type Principal struct {
	UserID string
}

// LogID returns a short prefix of the user id safe for diagnostic logs.
func (p Principal) LogID() string {
	if len(p.UserID) <= 8 {
		return p.UserID
	}
	return p.UserID[:8]
}

// Verifier turns a raw bearer credential into a Principal or rejects it.
type Verifier interface {
	Verify(ctx context.Context, bearer string) (Principal, error)
}

// StaticVerifier accepts every request as a fixed principal. Development and
// test use only.
type StaticVerifier struct {
	UserID string
}

func (v StaticVerifier) Verify(_ context.Context, _ string) (Principal, error) {
	if v.UserID == "" {
		return Principal{}, ErrUnauthenticated
	}
	return Principal{UserID: v.UserID}, nil
}
