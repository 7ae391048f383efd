package search

import (
	"errors"
	"testing"
	"time"
)

func TestProviderBlockedAfterConsecutiveFailures(t *testing.T) {
	service := NewService([]Provider{&fakeProvider{name: "alpha"}}, time.Second)
	now := time.Now()
	boom := errors.New("boom")

	for i := 0; i < providerFailureThreshold-1; i++ {
		service.recordProviderResult("alpha", "q", boom, 10*time.Millisecond, now)
		if blocked, _, _ := service.isProviderBlocked("alpha", now); blocked {
			t.Fatalf("blocked after only %d failures", i+1)
		}
	}

	service.recordProviderResult("alpha", "q", boom, 10*time.Millisecond, now)
	blocked, until, lastErr := service.isProviderBlocked("alpha", now)
	if !blocked {
		t.Fatal("expected provider blocked at the failure threshold")
	}
	if until.Sub(now) != providerBlockBase {
		t.Fatalf("first block window = %v, want %v", until.Sub(now), providerBlockBase)
	}
	if lastErr != "boom" {
		t.Fatalf("lastErr = %q", lastErr)
	}
}

func TestProviderUnblockedAfterWindowAndSuccessResets(t *testing.T) {
	service := NewService([]Provider{&fakeProvider{name: "alpha"}}, time.Second)
	now := time.Now()
	boom := errors.New("boom")

	for i := 0; i < providerFailureThreshold; i++ {
		service.recordProviderResult("alpha", "q", boom, 0, now)
	}

	later := now.Add(providerBlockBase + time.Second)
	if blocked, _, _ := service.isProviderBlocked("alpha", later); blocked {
		t.Fatal("block must lapse after the window")
	}

	service.recordProviderResult("alpha", "q", nil, 5*time.Millisecond, later)
	service.recordProviderResult("alpha", "q", boom, 0, later)
	service.recordProviderResult("alpha", "q", boom, 0, later)
	if blocked, _, _ := service.isProviderBlocked("alpha", later); blocked {
		t.Fatal("success must reset the consecutive failure counter")
	}
}

func TestExponentialBlockDuration(t *testing.T) {
	cases := []struct {
		failures int
		want     time.Duration
	}{
		{providerFailureThreshold, providerBlockBase},
		{providerFailureThreshold + 1, 2 * providerBlockBase},
		{providerFailureThreshold + 2, 4 * providerBlockBase},
		{providerFailureThreshold + 10, providerBlockMax},
	}
	for _, tc := range cases {
		if got := exponentialBlockDuration(tc.failures); got != tc.want {
			t.Errorf("exponentialBlockDuration(%d) = %v, want %v", tc.failures, got, tc.want)
		}
	}
}

func TestIsTimeoutLikeError(t *testing.T) {
	if !isTimeoutLikeError(errors.New("context deadline exceeded")) {
		t.Error("deadline exceeded must count as timeout")
	}
	if !isTimeoutLikeError(errors.New("request timeout")) {
		t.Error("timeout string must count as timeout")
	}
	if isTimeoutLikeError(errors.New("bad gateway")) {
		t.Error("bad gateway is not a timeout")
	}
	if isTimeoutLikeError(nil) {
		t.Error("nil is not a timeout")
	}
}

func TestProviderDiagnosticsReflectsHealth(t *testing.T) {
	service := NewService([]Provider{&fakeProvider{name: "alpha"}, &fakeProvider{name: "beta"}}, time.Second)
	now := time.Now()
	service.recordProviderResult("alpha", "dune", errors.New("boom"), 20*time.Millisecond, now)

	items := service.ProviderDiagnostics()
	if len(items) != 2 {
		t.Fatalf("expected 2 diagnostics entries, got %d", len(items))
	}
	if items[0].Name != "alpha" || items[1].Name != "beta" {
		t.Fatalf("diagnostics must be name-sorted, got %q then %q", items[0].Name, items[1].Name)
	}
	if items[0].TotalRequests != 1 || items[0].TotalFailures != 1 {
		t.Fatalf("alpha counters wrong: %+v", items[0])
	}
	if items[0].LastError != "boom" {
		t.Fatalf("alpha lastError = %q", items[0].LastError)
	}
	if items[1].TotalRequests != 0 {
		t.Fatalf("beta should be untouched: %+v", items[1])
	}
}
