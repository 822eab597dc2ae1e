package droppriv

import (
	"context"
	"regexp"
	"sync"
	"time"
)

// UserInfo is the result of resolving a user name to an identity.
type UserInfo struct {
	UID      uint32
	GID      uint32
	Username string
	HomeDir  string
	Shell    string
}

// LookupStrategy resolves user names through one name service.
// Strategies return *ErrUserNotFound for unknown users and
// ErrStrategyNotAvailable when the backing service cannot be reached.
type LookupStrategy interface {
	LookupUser(ctx context.Context, username string) (*UserInfo, error)
	Name() string
}

// usernamePattern accepts POSIX-style user names up to 32 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_][a-zA-Z0-9_@.$-]{0,31}$`)

func validateUsername(username string) error {
	if !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// ChainedStrategy tries each strategy in order until one succeeds.
// Unknown-user and unavailable-strategy results fall through to the
// next strategy; the error from the last attempt is reported when the
// whole chain fails.
type ChainedStrategy struct {
	strategies []LookupStrategy
}

// NewChainedStrategy builds a chain from the given strategies.
func NewChainedStrategy(strategies ...LookupStrategy) *ChainedStrategy {
	return &ChainedStrategy{strategies: strategies}
}

func (c *ChainedStrategy) LookupUser(ctx context.Context, username string) (*UserInfo, error) {
	if len(c.strategies) == 0 {
		return nil, ErrStrategyNotAvailable
	}

	var lastErr error
	for _, strategy := range c.strategies {
		info, err := strategy.LookupUser(ctx, username)
		if err == nil {
			return info, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *ChainedStrategy) Name() string {
	names := ""
	for i, s := range c.strategies {
		if i > 0 {
			names += ","
		}
		names += s.Name()
	}
	return "chain(" + names + ")"
}

// DefaultCacheTTL is how long a resolved identity stays cached.
const DefaultCacheTTL = 5 * time.Minute

type cachedEntry struct {
	info    *UserInfo
	expires time.Time
}

// CachedLookup wraps a strategy with a TTL cache of successful
// lookups. Failures are not cached.
type CachedLookup struct {
	strategy LookupStrategy
	ttl      time.Duration

	mu    sync.RWMutex
	cache map[string]cachedEntry
}

// NewCachedLookup wraps strategy with a cache. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewCachedLookup(strategy LookupStrategy, ttl time.Duration) *CachedLookup {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedLookup{
		strategy: strategy,
		ttl:      ttl,
		cache:    make(map[string]cachedEntry),
	}
}

func (c *CachedLookup) LookupUser(ctx context.Context, username string) (*UserInfo, error) {
	c.mu.RLock()
	entry, ok := c.cache[username]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.info, nil
	}

	info, err := c.strategy.LookupUser(ctx, username)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[username] = cachedEntry{info: info, expires: time.Now().Add(c.ttl)}
	c.mu.Unlock()
	return info, nil
}

func (c *CachedLookup) Name() string {
	return "cached(" + c.strategy.Name() + ")"
}

// Flush empties the cache.
func (c *CachedLookup) Flush() {
	c.mu.Lock()
	c.cache = make(map[string]cachedEntry)
	c.mu.Unlock()
}

var (
	defaultLookupOnce sync.Once
	defaultLookup     LookupStrategy
)

// DefaultLookup returns the process-wide lookup strategy: the best
// chain this system supports, behind a cache. The chain is built once
// on first use.
func DefaultLookup() LookupStrategy {
	defaultLookupOnce.Do(func() {
		defaultLookup = NewCachedLookup(buildLookupChain(), DefaultCacheTTL)
	})
	return defaultLookup
}

// LookupUser resolves username with the default strategy after
// validating it.
func LookupUser(ctx context.Context, username string) (*UserInfo, error) {
	if err := validateUsername(username); err != nil {
		return nil, err
	}
	return DefaultLookup().LookupUser(ctx, username)
}
