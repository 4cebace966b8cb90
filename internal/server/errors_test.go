package server

import (
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billfold/internal/errs"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  *errs.Error
		want int
	}{
		{errs.NotFound("x", ""), http.StatusNotFound},
		{errs.Validation("x", ""), http.StatusBadRequest},
		{errs.Duplicate("x", ""), http.StatusConflict},
		{errs.AlreadyOwned("x", ""), http.StatusConflict},
		{errs.InsufficientFunds(decimal.NewFromInt(10), decimal.Zero), http.StatusPaymentRequired},
		{errs.RateLimited("x", ""), http.StatusTooManyRequests},
		{errs.Transient("x", ""), http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err.Kind); got != tc.want {
			t.Errorf("statusFor(%s) = %d, want %d", tc.err.Kind, got, tc.want)
		}
	}
}

func TestRateLimiterWindow(t *testing.T) {
	limiter := newRateLimiter(2, 50*time.Millisecond)

	if !limiter.Allow("alice") || !limiter.Allow("alice") {
		t.Fatal("first two requests should pass")
	}
	if limiter.Allow("alice") {
		t.Fatal("third request inside the window should be rejected")
	}
	if !limiter.Allow("bob") {
		t.Fatal("keys are independent")
	}

	time.Sleep(60 * time.Millisecond)
	if !limiter.Allow("alice") {
		t.Fatal("window should have rolled over")
	}
}

func TestRateLimiterRejectsEmptyKey(t *testing.T) {
	limiter := newRateLimiter(2, time.Second)
	if limiter.Allow("") {
		t.Fatal("empty keys must never pass")
	}
}
