// Package droppriv permanently sheds the elevated privileges that a
// cpu-energy-meter process starts with. The tool needs CAP_SYS_RAWIO
// (or a root identity) only long enough to open its measurement
// interfaces; afterwards it calls into this package to reduce itself
// to an unprivileged identity with no capabilities.
//
// The operations here are one-way. Identity changes apply to every
// runtime thread and are verified by attempting to restore the old
// effective ids: the attempt must be rejected by the kernel, otherwise
// the drop reports a FatalError. There is no support for re-acquiring
// privileges.
//
// The tool's startup order is capabilities first, then identity, and
// DropAll applies that order. A process that starts with uid 0 loses
// CAP_SETUID and CAP_SETGID in the capability drop, so the kernel
// refuses the identity change that follows and the run ends instead of
// continuing as root. Under the file-capability deployment the process
// never holds a root identity and the identity drop is a no-op. The
// two operations stay independently callable for embedders with a
// different startup order.
package droppriv

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/viniciusvgp/cpu-energy-meter/config"
	"github.com/viniciusvgp/cpu-energy-meter/debug"
	"github.com/viniciusvgp/cpu-energy-meter/logging"
)

// Identity is a resolved unprivileged identity to drop to.
type Identity struct {
	UID  uint32
	GID  uint32
	Name string
}

func (i Identity) String() string {
	if i.Name != "" {
		return fmt.Sprintf("%s(%d:%d)", i.Name, i.UID, i.GID)
	}
	return fmt.Sprintf("%d:%d", i.UID, i.GID)
}

// Config controls how a Manager resolves the identity to drop to.
type Config struct {
	// TargetUser is a user name resolved through the lookup strategy
	// chain (systemd-userdb, SSSD, files). Ignored when TargetIDs is
	// set.
	TargetUser string

	// TargetIDs is an explicit uid/gid pair. Both ids must be
	// non-zero: zero is the "use the current real id" sentinel of
	// DropPrivileges and never a valid drop target.
	TargetIDs *Identity

	// Logger receives security-destination messages. A nil logger
	// discards them.
	Logger *logging.Logger

	// Debug gates the debug-level diagnostics. Defaults to the
	// process-wide flag.
	Debug *debug.State
}

// FromConfig builds a Config from the tool configuration. Recognized
// keys: TARGET_USER (user name) and TARGET_IDS ("uid:gid").
func FromConfig(cfg *config.Config) (Config, error) {
	var conf Config
	if cfg == nil {
		return conf, nil
	}

	if user, ok := cfg.Get("TARGET_USER"); ok {
		conf.TargetUser = strings.TrimSpace(user)
	}

	if pair, ok := cfg.Get("TARGET_IDS"); ok && strings.TrimSpace(pair) != "" {
		ids, err := parseIDPair(pair)
		if err != nil {
			return conf, fmt.Errorf("parsing TARGET_IDS: %w", err)
		}
		conf.TargetIDs = ids
	}

	return conf, nil
}

// parseIDPair parses "uid:gid" into an Identity.
func parseIDPair(pair string) (*Identity, error) {
	parts := strings.Split(strings.TrimSpace(pair), ":")
	if len(parts) != 2 {
		return nil, fmt.Errorf("expected uid:gid, got %q", pair)
	}
	uid, err := parseUint32(parts[0])
	if err != nil {
		return nil, fmt.Errorf("uid: %w", err)
	}
	gid, err := parseUint32(parts[1])
	if err != nil {
		return nil, fmt.Errorf("gid: %w", err)
	}
	if uid == 0 || gid == 0 {
		return nil, fmt.Errorf("uid and gid must be non-zero, got %d:%d", uid, gid)
	}
	return &Identity{UID: uid, GID: gid}, nil
}

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

// Manager resolves the configured target identity and performs the
// drops. All methods are safe for use from a single goroutine; the
// identity cache is additionally safe for concurrent lookups.
type Manager struct {
	log        *logging.Logger
	debug      *debug.State
	target     *Identity
	targetUser string

	cacheMu          sync.RWMutex
	cachedIdentities map[string]*Identity
}

// NewManager creates a Manager from conf.
func NewManager(conf Config) (*Manager, error) {
	if conf.TargetIDs != nil && (conf.TargetIDs.UID == 0 || conf.TargetIDs.GID == 0) {
		return nil, fmt.Errorf("target ids must be non-zero, got %s", conf.TargetIDs)
	}

	dbg := conf.Debug
	if dbg == nil {
		dbg = debug.Process()
	}

	return &Manager{
		log:              conf.Logger,
		debug:            dbg,
		target:           conf.TargetIDs,
		targetUser:       conf.TargetUser,
		cachedIdentities: make(map[string]*Identity),
	}, nil
}

var defaultManager atomic.Pointer[Manager]

// DefaultManager returns the shared Manager, creating an unconfigured
// one on first use. An unconfigured Manager has no target identity:
// DropPrivileges falls back to the current real ids.
func DefaultManager() *Manager {
	if m := defaultManager.Load(); m != nil {
		return m
	}
	m, _ := NewManager(Config{})
	if defaultManager.CompareAndSwap(nil, m) {
		return m
	}
	return defaultManager.Load()
}

// SetDefaultManager replaces the shared Manager, typically during
// startup after the configuration has been loaded.
func SetDefaultManager(m *Manager) {
	defaultManager.Store(m)
}

// ResolveTarget resolves the identity the Manager will drop to. An
// explicit TargetIDs pair wins; otherwise TargetUser is resolved via
// the lookup chain and cached. With neither configured it returns the
// zero Identity, which DropPrivileges treats as "use the current real
// ids".
func (m *Manager) ResolveTarget(ctx context.Context) (Identity, error) {
	if m.target != nil {
		return *m.target, nil
	}
	if m.targetUser == "" {
		return Identity{}, nil
	}

	if err := validateUsername(m.targetUser); err != nil {
		return Identity{}, err
	}

	m.cacheMu.RLock()
	cached := m.cachedIdentities[m.targetUser]
	m.cacheMu.RUnlock()
	if cached != nil {
		return *cached, nil
	}

	info, err := DefaultLookup().LookupUser(ctx, m.targetUser)
	if err != nil {
		return Identity{}, fmt.Errorf("resolving target user %q: %w", m.targetUser, err)
	}
	if info.UID == 0 || info.GID == 0 {
		return Identity{}, fmt.Errorf("target user %q resolves to a privileged id (%d:%d)", m.targetUser, info.UID, info.GID)
	}

	id := &Identity{UID: info.UID, GID: info.GID, Name: info.Username}
	m.cacheMu.Lock()
	m.cachedIdentities[m.targetUser] = id
	m.cacheMu.Unlock()

	m.debugf("Resolved target user %q to %s", m.targetUser, id)
	return *id, nil
}

// DropCapabilities clears every capability of the calling process, on
// all runtime threads. Each stage failure is a FatalError naming the
// stage. On success the process holds no Linux capabilities.
func (m *Manager) DropCapabilities() error {
	if err := m.dropCapabilities(); err != nil {
		return err
	}
	m.debugf("Cleared all process capabilities")
	return nil
}

// DropPrivileges transitions the real and effective uid/gid of the
// process to the given targets. A uid or gid of zero (or below) means
// "use the current real id for that field". When the current effective
// uid and gid are both already non-zero the call is a no-op. See the
// package documentation for the irrevocability guarantee.
func (m *Manager) DropPrivileges(uid, gid int) error {
	return m.dropPrivileges(uid, gid)
}

// DropAll resolves the configured target, then clears capabilities and
// drops identity, in the tool's startup order. See the package
// documentation for what this order means for root-started processes.
func (m *Manager) DropAll(ctx context.Context) error {
	id, err := m.ResolveTarget(ctx)
	if err != nil {
		return err
	}
	if err := m.DropCapabilities(); err != nil {
		return err
	}
	if err := m.DropPrivileges(int(id.UID), int(id.GID)); err != nil {
		return err
	}
	m.infof("Capabilities and privileges dropped (target=%s)", id.String())
	return nil
}

func (m *Manager) debugf(format string, args ...any) {
	if m.log == nil || m.debug == nil || !m.debug.Enabled() {
		return
	}
	m.log.Debugf(logging.DestinationSecurity, format, args...)
}

func (m *Manager) infof(format string, args ...any) {
	if m.log == nil {
		return
	}
	m.log.Infof(logging.DestinationSecurity, format, args...)
}

// DropCapabilities clears every capability of the calling process
// using the shared Manager.
func DropCapabilities() error {
	return DefaultManager().DropCapabilities()
}

// DropPrivileges drops to the given uid/gid using the shared Manager.
func DropPrivileges(uid, gid int) error {
	return DefaultManager().DropPrivileges(uid, gid)
}

// DropAll resolves the target and performs both drops using the
// shared Manager.
func DropAll(ctx context.Context) error {
	return DefaultManager().DropAll(ctx)
}
