// Package reply turns a composed prompt into either reply text or a typed
// failure that callers can render without further error handling.
package reply

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	modelpkg "github.com/stupiduntilnot/relaybot/internal/model"
)

// FailureKind groups generation failures by what a user can do about them.
type FailureKind string

const (
	FailureNetwork   FailureKind = "network"
	FailureAuth      FailureKind = "auth"
	FailureQuota     FailureKind = "quota"
	FailureMalformed FailureKind = "malformed"
	FailureUnknown   FailureKind = "unknown"
)

// Failure describes a generation call that did not produce text.
type Failure struct {
	Kind       FailureKind
	Diagnostic string
	Err        error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("generation failed kind=%s: %s", f.Kind, f.Diagnostic)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result is the outcome of one generation call. Exactly one of Text or
// Failure is meaningful: Failure is nil on success.
type Result struct {
	Text         string
	Failure      *Failure
	InputTokens  int
	OutputTokens int
	Latency      time.Duration
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Failure == nil }

// Service calls a model provider on a separate goroutine and normalizes the
// outcome. It never retries and keeps no state between calls.
type Service struct {
	provider modelpkg.Provider
	now      func() time.Time
}

// NewService creates a reply service backed by provider.
func NewService(provider modelpkg.Provider) *Service {
	return &Service{provider: provider, now: time.Now}
}

// Provider returns the underlying provider.
func (s *Service) Provider() modelpkg.Provider { return s.provider }

// Generate runs the provider call to completion. Cancelling ctx does not
// abort a call that has already been issued.
func (s *Service) Generate(ctx context.Context, payload string) Result {
	started := s.now()
	done := make(chan Result, 1)
	callCtx := context.WithoutCancel(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- Result{Failure: &Failure{
					Kind:       FailureUnknown,
					Diagnostic: fmt.Sprintf("provider panic: %v", r),
				}}
			}
		}()
		resp, err := s.provider.Generate(callCtx, payload)
		if err != nil {
			done <- Result{Failure: classify(err)}
			return
		}
		done <- Result{
			Text:         strings.TrimSpace(resp.Content),
			InputTokens:  resp.InputTokens,
			OutputTokens: resp.OutputTokens,
		}
	}()

	res := <-done
	res.Latency = s.now().Sub(started)
	return res
}

func classify(err error) *Failure {
	f := &Failure{Kind: FailureUnknown, Diagnostic: diagnostic(err), Err: err}

	var pe *modelpkg.ProviderError
	if errors.As(err, &pe) {
		f.Kind = kindForCode(pe.Code)
		if f.Kind != FailureUnknown {
			return f
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		f.Kind = FailureNetwork
		return f
	}
	f.Kind = kindForText(err.Error())
	return f
}

func kindForCode(code modelpkg.ErrorCode) FailureKind {
	switch code {
	case modelpkg.ErrCodeNetworkError, modelpkg.ErrCodeTimeout, modelpkg.ErrCodeServiceUnavailable:
		return FailureNetwork
	case modelpkg.ErrCodeAuthFailed:
		return FailureAuth
	case modelpkg.ErrCodeQuotaExceeded, modelpkg.ErrCodeRateLimited:
		return FailureQuota
	case modelpkg.ErrCodeMalformedResponse, modelpkg.ErrCodeInvalidRequest:
		return FailureMalformed
	default:
		return FailureUnknown
	}
}

// kindForText classifies untyped errors by keyword.
func kindForText(msg string) FailureKind {
	msg = strings.ToLower(msg)
	switch {
	case containsAny(msg, "quota", "rate limit", "resource_exhausted", "too many requests"):
		return FailureQuota
	case containsAny(msg, "api key", "unauthorized", "unauthenticated", "permission denied", "forbidden"):
		return FailureAuth
	case containsAny(msg, "timeout", "deadline exceeded", "connection refused", "no such host", "connection reset", "eof"):
		return FailureNetwork
	case containsAny(msg, "malformed", "parse", "empty response", "no candidates", "invalid character"):
		return FailureMalformed
	default:
		return FailureUnknown
	}
}

// diagnostic prefers the provider's own message over the wrapped chain.
func diagnostic(err error) string {
	var pe *modelpkg.ProviderError
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return err.Error()
}

func containsAny(s string, parts ...string) bool {
	for _, p := range parts {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
