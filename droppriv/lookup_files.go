package droppriv

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// NSSMethod is one source from the passwd line of nsswitch.conf.
type NSSMethod string

// Sources this package knows how to map to a lookup strategy.
const (
	NSSMethodFiles   NSSMethod = "files"
	NSSMethodSSS     NSSMethod = "sss"
	NSSMethodSystemd NSSMethod = "systemd"
	NSSMethodCompat  NSSMethod = "compat"
)

// ParseNSSwitch reads the passwd line from an nsswitch.conf file and
// returns the sources in their configured order. Bracketed action
// specifications ("[NOTFOUND=return]") are skipped; unknown sources
// are preserved so callers can ignore them explicitly.
func ParseNSSwitch(path string) ([]NSSMethod, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if len(fields) < 2 || !strings.EqualFold(strings.TrimSuffix(fields[0], ":"), "passwd") {
			continue
		}

		var methods []NSSMethod
		for _, field := range fields[1:] {
			if strings.HasPrefix(field, "[") {
				continue
			}
			if strings.HasPrefix(field, "#") {
				break
			}
			methods = append(methods, NSSMethod(strings.ToLower(field)))
		}
		return methods, nil
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return nil, fmt.Errorf("no passwd line in %s", path)
}

// GoLookupStrategy resolves users through os/user, which reads
// /etc/passwd directly in pure-Go builds.
type GoLookupStrategy struct{}

// NewGoLookup returns the os/user fallback strategy.
func NewGoLookup() *GoLookupStrategy {
	return &GoLookupStrategy{}
}

func (g *GoLookupStrategy) Name() string {
	return "os-user"
}

func (g *GoLookupStrategy) LookupUser(_ context.Context, username string) (*UserInfo, error) {
	u, err := user.Lookup(username)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return nil, &ErrUserNotFound{Username: username}
		}
		return nil, fmt.Errorf("os/user lookup: %w", err)
	}

	uid, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing uid %q for user %s: %w", u.Uid, username, err)
	}
	gid, err := strconv.ParseUint(u.Gid, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("parsing gid %q for user %s: %w", u.Gid, username, err)
	}

	return &UserInfo{
		UID:      uint32(uid),
		GID:      uint32(gid),
		Username: u.Username,
		HomeDir:  u.HomeDir,
	}, nil
}
