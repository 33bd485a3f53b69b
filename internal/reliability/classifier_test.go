package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestTransientByCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain error", errors.New("boom"), false},
		{"timeout code", &StorageError{Code: CodeTimeout, Err: errors.New("x")}, true},
		{"connection lost", &StorageError{Code: CodeConnectionLost, Err: errors.New("x")}, true},
		{"connection closed", &StorageError{Code: CodeConnectionClosed, Err: errors.New("x")}, true},
		{"unavailable", &StorageError{Code: CodeUnavailable, Err: errors.New("x")}, true},
		{"unknown code", &StorageError{Code: "weird", Err: errors.New("x")}, false},
		{"wrapped transient", fmt.Errorf("outer: %w", &StorageError{Code: CodeTimeout, Err: errors.New("x")}), true},
	}
	for _, tc := range cases {
		if got := Transient(tc.err); got != tc.want {
			t.Fatalf("%s: Transient = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestWrapStorageClassification(t *testing.T) {
	deadline := fmt.Errorf("query: %w", context.DeadlineExceeded)
	err := WrapStorage("get", deadline)
	var se *StorageError
	if !errors.As(err, &se) || se.Code != CodeTimeout {
		t.Fatalf("deadline classified as %v, want timeout", err)
	}

	pgConnErr := &pgconn.PgError{Code: "08006", Message: "connection failure"}
	err = WrapStorage("get", pgConnErr)
	if !errors.As(err, &se) || se.Code != CodeConnectionLost {
		t.Fatalf("class-08 classified as %v, want connection_lost", err)
	}

	constraint := &pgconn.PgError{Code: "23505", Message: "duplicate key"}
	err = WrapStorage("insert", constraint)
	if errors.As(err, &se) {
		t.Fatalf("constraint violation classified transient: %v", err)
	}
	if !errors.Is(err, error(constraint)) {
		t.Fatalf("permanent error should still wrap the cause: %v", err)
	}
}

func TestDoRetriesTransientOnly(t *testing.T) {
	p := Policy{Retries: 2, Delay: time.Millisecond}

	attempts := 0
	err := Do(context.Background(), p, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &StorageError{Code: CodeConnectionLost, Err: errors.New("dropped")}
		}
		return nil
	})
	if err != nil || attempts != 3 {
		t.Fatalf("Do = %v after %d attempts, want success on third", err, attempts)
	}

	attempts = 0
	permanent := errors.New("validation failed")
	err = Do(context.Background(), p, func(context.Context) error {
		attempts++
		return permanent
	})
	if !errors.Is(err, permanent) || attempts != 1 {
		t.Fatalf("permanent error retried: %v after %d attempts", err, attempts)
	}
}

func TestDoExhaustsBudget(t *testing.T) {
	p := Policy{Retries: 2, Delay: time.Millisecond}
	attempts := 0
	transient := &StorageError{Code: CodeTimeout, Err: errors.New("slow")}
	err := Do(context.Background(), p, func(context.Context) error {
		attempts++
		return transient
	})
	if !errors.Is(err, error(transient)) || attempts != 3 {
		t.Fatalf("Do = %v after %d attempts, want transient error after 3", err, attempts)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{Retries: 5, Delay: time.Minute}
	err := Do(ctx, p, func(context.Context) error {
		return &StorageError{Code: CodeTimeout, Err: errors.New("slow")}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Do = %v, want context.Canceled", err)
	}
}
