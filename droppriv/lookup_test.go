package droppriv

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockStrategy is a scripted LookupStrategy for chain and cache tests.
type mockStrategy struct {
	name  string
	info  *UserInfo
	err   error
	calls int
}

func (m *mockStrategy) LookupUser(_ context.Context, _ string) (*UserInfo, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.info, nil
}

func (m *mockStrategy) Name() string {
	return m.name
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name      string
		username  string
		wantError bool
	}{
		{
			name:     "simple username",
			username: "alice",
		},
		{
			name:     "underscore",
			username: "energy_meter",
		},
		{
			name:     "dash",
			username: "energy-meter",
		},
		{
			name:     "domain qualified",
			username: "meter@example.com",
		},
		{
			name:     "dot",
			username: "energy.meter",
		},
		{
			name:     "machine account",
			username: "meterhost$",
		},
		{
			name:     "leading digit",
			username: "1meter",
		},
		{
			name:     "single character",
			username: "m",
		},
		{
			name:     "maximum length",
			username: "a1234567890123456789012345678901",
		},
		{
			name:      "empty",
			username:  "",
			wantError: true,
		},
		{
			name:      "whitespace only",
			username:  "   ",
			wantError: true,
		},
		{
			name:      "embedded space",
			username:  "energy meter",
			wantError: true,
		},
		{
			name:      "leading dash",
			username:  "-meter",
			wantError: true,
		},
		{
			name:      "leading dot",
			username:  ".meter",
			wantError: true,
		},
		{
			name:      "slash",
			username:  "energy/meter",
			wantError: true,
		},
		{
			name:      "colon",
			username:  "energy:meter",
			wantError: true,
		},
		{
			name:      "non-ascii",
			username:  "énergie",
			wantError: true,
		},
		{
			name:      "too long",
			username:  "a12345678901234567890123456789012",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateUsername(tt.username)
			if tt.wantError {
				if !errors.Is(err, ErrInvalidUsername) {
					t.Errorf("validateUsername(%q) = %v, want ErrInvalidUsername", tt.username, err)
				}
			} else if err != nil {
				t.Errorf("validateUsername(%q) unexpected error: %v", tt.username, err)
			}
		})
	}
}

func TestChainedStrategyFirstWins(t *testing.T) {
	first := &mockStrategy{name: "first", info: &UserInfo{UID: 1500, GID: 1600, Username: "meter"}}
	second := &mockStrategy{name: "second", info: &UserInfo{UID: 9999, GID: 9999, Username: "meter"}}
	chain := NewChainedStrategy(first, second)

	info, err := chain.LookupUser(context.Background(), "meter")
	if err != nil {
		t.Fatalf("LookupUser failed: %v", err)
	}
	if info.UID != 1500 {
		t.Errorf("UID = %d, want 1500 from the first strategy", info.UID)
	}
	if second.calls != 0 {
		t.Errorf("Second strategy was consulted %d times after the first succeeded", second.calls)
	}
}

func TestChainedStrategyFallsThrough(t *testing.T) {
	first := &mockStrategy{name: "first", err: &ErrUserNotFound{Username: "meter"}}
	second := &mockStrategy{name: "second", err: ErrStrategyNotAvailable}
	third := &mockStrategy{name: "third", info: &UserInfo{UID: 1500, GID: 1600, Username: "meter"}}
	chain := NewChainedStrategy(first, second, third)

	info, err := chain.LookupUser(context.Background(), "meter")
	if err != nil {
		t.Fatalf("LookupUser failed: %v", err)
	}
	if info.UID != 1500 {
		t.Errorf("UID = %d, want 1500 from the last strategy", info.UID)
	}
	if first.calls != 1 || second.calls != 1 || third.calls != 1 {
		t.Errorf("Call counts = %d/%d/%d, want 1/1/1", first.calls, second.calls, third.calls)
	}
}

func TestChainedStrategyReportsLastError(t *testing.T) {
	first := &mockStrategy{name: "first", err: ErrStrategyNotAvailable}
	second := &mockStrategy{name: "second", err: &ErrUserNotFound{Username: "meter"}}
	chain := NewChainedStrategy(first, second)

	_, err := chain.LookupUser(context.Background(), "meter")
	var notFound *ErrUserNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("Error = %v, want the last strategy's ErrUserNotFound", err)
	}
	if notFound.Username != "meter" {
		t.Errorf("Username = %q, want %q", notFound.Username, "meter")
	}
}

func TestChainedStrategyEmpty(t *testing.T) {
	chain := NewChainedStrategy()
	_, err := chain.LookupUser(context.Background(), "meter")
	if !errors.Is(err, ErrStrategyNotAvailable) {
		t.Errorf("Error = %v, want ErrStrategyNotAvailable", err)
	}
}

func TestChainedStrategyStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	first := &mockStrategy{name: "first", err: ErrStrategyNotAvailable}
	second := &mockStrategy{name: "second", info: &UserInfo{UID: 1500, GID: 1600}}
	chain := NewChainedStrategy(first, second)

	_, err := chain.LookupUser(ctx, "meter")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Error = %v, want context.Canceled", err)
	}
	if second.calls != 0 {
		t.Errorf("Second strategy ran %d times after cancellation", second.calls)
	}
}

func TestChainedStrategyName(t *testing.T) {
	chain := NewChainedStrategy(
		&mockStrategy{name: "alpha"},
		&mockStrategy{name: "beta"},
	)
	if got := chain.Name(); got != "chain(alpha,beta)" {
		t.Errorf("Name() = %q, want %q", got, "chain(alpha,beta)")
	}
}

func TestCachedLookupCachesSuccess(t *testing.T) {
	mock := &mockStrategy{name: "mock", info: &UserInfo{UID: 1500, GID: 1600, Username: "meter"}}
	cached := NewCachedLookup(mock, time.Minute)

	for i := 0; i < 3; i++ {
		info, err := cached.LookupUser(context.Background(), "meter")
		if err != nil {
			t.Fatalf("Lookup %d failed: %v", i, err)
		}
		if info.UID != 1500 {
			t.Errorf("Lookup %d UID = %d, want 1500", i, info.UID)
		}
	}
	if mock.calls != 1 {
		t.Errorf("Backing strategy was called %d times, want 1", mock.calls)
	}
}

func TestCachedLookupExpires(t *testing.T) {
	mock := &mockStrategy{name: "mock", info: &UserInfo{UID: 1500, GID: 1600, Username: "meter"}}
	cached := NewCachedLookup(mock, 50*time.Millisecond)

	if _, err := cached.LookupUser(context.Background(), "meter"); err != nil {
		t.Fatalf("First lookup failed: %v", err)
	}

	// Wait for the entry to expire
	time.Sleep(80 * time.Millisecond)

	if _, err := cached.LookupUser(context.Background(), "meter"); err != nil {
		t.Fatalf("Second lookup failed: %v", err)
	}
	if mock.calls != 2 {
		t.Errorf("Backing strategy was called %d times, want 2 after expiry", mock.calls)
	}
}

func TestCachedLookupDoesNotCacheFailures(t *testing.T) {
	mock := &mockStrategy{name: "mock", err: &ErrUserNotFound{Username: "meter"}}
	cached := NewCachedLookup(mock, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := cached.LookupUser(context.Background(), "meter"); err == nil {
			t.Fatalf("Lookup %d unexpectedly succeeded", i)
		}
	}
	if mock.calls != 2 {
		t.Errorf("Backing strategy was called %d times, want 2 (failures are not cached)", mock.calls)
	}
}

func TestCachedLookupFlush(t *testing.T) {
	mock := &mockStrategy{name: "mock", info: &UserInfo{UID: 1500, GID: 1600, Username: "meter"}}
	cached := NewCachedLookup(mock, time.Minute)

	if _, err := cached.LookupUser(context.Background(), "meter"); err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	cached.Flush()
	if _, err := cached.LookupUser(context.Background(), "meter"); err != nil {
		t.Fatalf("Lookup after flush failed: %v", err)
	}
	if mock.calls != 2 {
		t.Errorf("Backing strategy was called %d times, want 2 after flush", mock.calls)
	}
}

func TestCachedLookupDefaultTTL(t *testing.T) {
	cached := NewCachedLookup(&mockStrategy{name: "mock"}, 0)
	if cached.ttl != DefaultCacheTTL {
		t.Errorf("ttl = %v, want DefaultCacheTTL for non-positive input", cached.ttl)
	}
	if got := cached.Name(); got != "cached(mock)" {
		t.Errorf("Name() = %q, want %q", got, "cached(mock)")
	}
}

func TestGoLookupRoot(t *testing.T) {
	info, err := NewGoLookup().LookupUser(context.Background(), "root")
	if err != nil {
		t.Fatalf("LookupUser(root) failed: %v", err)
	}
	if info.UID != 0 {
		t.Errorf("Expected UID 0 for root, got %d", info.UID)
	}
	if info.Username != "root" {
		t.Errorf("Expected username 'root', got %s", info.Username)
	}
	t.Logf("Root user: UID=%d GID=%d HomeDir=%s", info.UID, info.GID, info.HomeDir)
}

func TestGoLookupNotFound(t *testing.T) {
	_, err := NewGoLookup().LookupUser(context.Background(), "nonexistentuser12345")
	if err == nil {
		t.Fatal("Expected error for non-existent user")
	}

	var notFound *ErrUserNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("Expected ErrUserNotFound, got %T: %v", err, err)
	}
}

func TestDefaultLookupResolvesRoot(t *testing.T) {
	lookup := DefaultLookup()
	if lookup == nil {
		t.Fatal("DefaultLookup returned nil")
	}
	t.Logf("Default lookup strategy: %s", lookup.Name())

	info, err := lookup.LookupUser(context.Background(), "root")
	if err != nil {
		t.Fatalf("LookupUser(root) failed: %v", err)
	}
	if info.UID != 0 {
		t.Errorf("Expected UID 0 for root, got %d", info.UID)
	}
}

func TestLookupUserValidatesFirst(t *testing.T) {
	_, err := LookupUser(context.Background(), "not a user")
	if !errors.Is(err, ErrInvalidUsername) {
		t.Errorf("Error = %v, want ErrInvalidUsername", err)
	}
}
