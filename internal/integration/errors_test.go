package integration

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestClassifyHTTP verifies the status-to-kind mapping
func TestClassifyHTTP(t *testing.T) {
	cases := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusTooManyRequests, KindRateLimited},
		{http.StatusNotFound, KindNotFound},
		{http.StatusInternalServerError, KindNetwork},
		{http.StatusBadGateway, KindNetwork},
		{http.StatusBadRequest, KindAPI},
		{http.StatusConflict, KindAPI},
	}

	for _, tc := range cases {
		err := classifyHTTP("github", "op", tc.status, "body")
		if err.Kind != tc.want {
			t.Errorf("Status %d: expected %v, got %v", tc.status, tc.want, err.Kind)
		}
	}

	t.Log("✓ HTTP statuses classify to the right kinds")
}

// TestClassifyTransport verifies timeout detection
func TestClassifyTransport(t *testing.T) {
	timeout := classifyTransport("jira", "search", context.DeadlineExceeded)
	if timeout.Kind != KindNetwork || timeout.Message != "request timeout" {
		t.Errorf("Expected network timeout, got %+v", timeout)
	}

	plain := classifyTransport("jira", "search", errors.New("connection reset"))
	if plain.Kind != KindNetwork {
		t.Errorf("Expected network kind, got %v", plain.Kind)
	}

	t.Log("✓ transport failures classify as network errors")
}

// TestKindPredicatesThroughWrapping verifies that kind checks survive
// fmt.Errorf wrapping
func TestKindPredicatesThroughWrapping(t *testing.T) {
	base := NewError(KindAuth, "github", "list_open_prs", errors.New("bad credentials"))
	wrapped := fmt.Errorf("refresh failed: %w", base)

	if !IsAuth(wrapped) {
		t.Error("Expected IsAuth through wrapping")
	}
	if IsRateLimited(wrapped) {
		t.Error("Did not expect IsRateLimited")
	}
	if KindOf(wrapped) != KindAuth {
		t.Errorf("Expected KindAuth, got %v", KindOf(wrapped))
	}

	t.Log("✓ kind predicates unwrap")
}

// TestKindOfDefaultsToNetwork verifies that untyped errors read as transient
func TestKindOfDefaultsToNetwork(t *testing.T) {
	if got := KindOf(errors.New("dial tcp: connection refused")); got != KindNetwork {
		t.Errorf("Expected network default, got %v", got)
	}
}

// TestRetryable verifies that only transient kinds are worth retrying
func TestRetryable(t *testing.T) {
	retryable := []ErrorKind{KindNetwork, KindRateLimited}
	for _, kind := range retryable {
		if !Retryable(NewError(kind, "p", "op", errors.New("x"))) {
			t.Errorf("Expected %v retryable", kind)
		}
	}

	terminal := []ErrorKind{KindAuth, KindNotFound, KindAPI, KindParse}
	for _, kind := range terminal {
		if Retryable(NewError(kind, "p", "op", errors.New("x"))) {
			t.Errorf("Expected %v not retryable", kind)
		}
	}

	t.Log("✓ only transient failures are retryable")
}

// TestErrorStringIncludesContext verifies the rendered message carries
// provider and operation
func TestErrorStringIncludesContext(t *testing.T) {
	err := &Error{Kind: KindRateLimited, Provider: "github", Op: "list_open_prs",
		Message: "rate limit exhausted"}

	got := err.Error()
	want := "github: list_open_prs: rate_limited error: rate limit exhausted"
	if got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
