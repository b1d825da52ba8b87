package ratelimit

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"lifeline/pkg/testutil"
)

type RateLimitSuite struct {
	suite.Suite
}

func TestRateLimitSuite(t *testing.T) {
	suite.Run(t, new(RateLimitSuite))
}

// TestMemoryStore verifies the sliding window accounting.
func (s *RateLimitSuite) TestMemoryStore() {
	ctx := context.Background()

	s.Run("counts down to zero then blocks", func() {
		store := NewMemoryStore()
		for i := 0; i < 3; i++ {
			result, err := store.Allow(ctx, "ip-1", 3, time.Minute)
			s.Require().NoError(err)
			s.True(result.Allowed)
			s.Equal(3-i-1, result.Remaining)
		}
		result, err := store.Allow(ctx, "ip-1", 3, time.Minute)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)
		s.Positive(result.RetryAfter)
	})

	s.Run("keys are independent", func() {
		store := NewMemoryStore()
		result, err := store.Allow(ctx, "ip-a", 1, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)

		result, err = store.Allow(ctx, "ip-b", 1, time.Minute)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})

	s.Run("old entries fall out of the window", func() {
		store := NewMemoryStore()
		result, err := store.Allow(ctx, "ip-2", 1, 10*time.Millisecond)
		s.Require().NoError(err)
		s.True(result.Allowed)

		result, err = store.Allow(ctx, "ip-2", 1, 10*time.Millisecond)
		s.Require().NoError(err)
		s.False(result.Allowed)

		time.Sleep(15 * time.Millisecond)
		result, err = store.Allow(ctx, "ip-2", 1, 10*time.Millisecond)
		s.Require().NoError(err)
		s.True(result.Allowed)
	})
}

// erroringStore simulates a broken limiter backend.
type erroringStore struct{}

func (erroringStore) Allow(context.Context, string, int, time.Duration) (*Result, error) {
	return nil, errors.New("store unavailable")
}

// TestMiddleware verifies classification, headers, and failure modes.
func (s *RateLimitSuite) TestMiddleware() {
	okHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.Run("mutations draw from the mutate budget", func() {
		limiter := New(NewMemoryStore(), Limits{
			ClassRead:   {Requests: 100, Window: time.Minute},
			ClassMutate: {Requests: 2, Window: time.Minute},
		}, slog.Default())
		handler := limiter.Limit(okHandler)

		for i := 0; i < 2; i++ {
			rr := testutil.DoRequest(handler, testutil.NewRequest(s.T(), http.MethodPost, "/treatments/"))
			testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
		}
		rr := testutil.DoRequest(handler, testutil.NewRequest(s.T(), http.MethodPost, "/treatments/"))
		testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
		testutil.AssertJSONContains(s.T(), rr, "error", "rate_limit_exceeded")
		s.NotEmpty(rr.Header().Get("Retry-After"))

		// The read budget is untouched.
		rr = testutil.DoRequest(handler, testutil.NewRequest(s.T(), http.MethodGet, "/treatments/"))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("allowed responses carry the budget headers", func() {
		limiter := New(NewMemoryStore(), DefaultLimits(), slog.Default())
		rr := testutil.DoRequest(limiter.Limit(okHandler), testutil.NewRequest(s.T(), http.MethodGet, "/treatments/"))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
		s.Equal("300", rr.Header().Get("X-RateLimit-Limit"))
		s.Equal("299", rr.Header().Get("X-RateLimit-Remaining"))
		s.NotEmpty(rr.Header().Get("X-RateLimit-Reset"))
	})

	s.Run("missing class budget denies", func() {
		limiter := New(NewMemoryStore(), Limits{ClassRead: {Requests: 10, Window: time.Minute}}, slog.Default())
		rr := testutil.DoRequest(limiter.Limit(okHandler), testutil.NewRequest(s.T(), http.MethodPost, "/treatments/"))
		testutil.AssertStatus(s.T(), rr, http.StatusTooManyRequests)
	})

	s.Run("store errors fail open", func() {
		limiter := New(erroringStore{}, DefaultLimits(), slog.Default())
		rr := testutil.DoRequest(limiter.Limit(okHandler), testutil.NewRequest(s.T(), http.MethodGet, "/treatments/"))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})

	s.Run("disabled limiter passes everything", func() {
		limiter := New(erroringStore{}, nil, slog.Default(), WithDisabled(true))
		rr := testutil.DoRequest(limiter.Limit(okHandler), testutil.NewRequest(s.T(), http.MethodPost, "/treatments/"))
		testutil.AssertStatus(s.T(), rr, http.StatusNoContent)
	})
}
