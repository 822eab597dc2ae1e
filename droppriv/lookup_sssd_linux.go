//go:build linux

package droppriv

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	sssdBusName   = "org.freedesktop.sssd.infopipe"
	sssdUsersPath = "/org/freedesktop/sssd/infopipe/Users"
	sssdUsersIfc  = "org.freedesktop.sssd.infopipe.Users"
	sssdUserIfc   = "org.freedesktop.sssd.infopipe.Users.User"
)

// SSSDStrategy resolves users through the SSSD InfoPipe responder on
// the system bus. It covers directory-backed users (LDAP, IPA, AD)
// that never appear in /etc/passwd.
type SSSDStrategy struct {
	conn *dbus.Conn
}

// NewSSSDStrategy connects to the system bus and checks that the
// InfoPipe service is activatable. Returns ErrStrategyNotAvailable
// when there is no bus or no SSSD on it.
func NewSSSDStrategy() (*SSSDStrategy, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, ErrStrategyNotAvailable
	}

	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListActivatableNames", 0).Store(&names); err != nil {
		return nil, ErrStrategyNotAvailable
	}
	for _, name := range names {
		if name == sssdBusName {
			return &SSSDStrategy{conn: conn}, nil
		}
	}
	return nil, ErrStrategyNotAvailable
}

func (s *SSSDStrategy) Name() string {
	return "sssd-infopipe"
}

func (s *SSSDStrategy) LookupUser(ctx context.Context, username string) (*UserInfo, error) {
	users := s.conn.Object(sssdBusName, sssdUsersPath)

	var userPath dbus.ObjectPath
	call := users.CallWithContext(ctx, sssdUsersIfc+".FindByName", 0, username)
	if call.Err != nil {
		if isSSSDNotFound(call.Err) {
			return nil, &ErrUserNotFound{Username: username}
		}
		return nil, fmt.Errorf("sssd FindByName: %w", call.Err)
	}
	if err := call.Store(&userPath); err != nil {
		return nil, fmt.Errorf("sssd FindByName reply: %w", err)
	}

	userObj := s.conn.Object(sssdBusName, userPath)

	uid, err := sssdUint32Property(userObj, "uidNumber")
	if err != nil {
		return nil, err
	}
	gid, err := sssdUint32Property(userObj, "gidNumber")
	if err != nil {
		return nil, err
	}

	info := &UserInfo{UID: uid, GID: gid, Username: username}
	if name, err := sssdStringProperty(userObj, "name"); err == nil && name != "" {
		info.Username = name
	}
	if home, err := sssdStringProperty(userObj, "homeDirectory"); err == nil {
		info.HomeDir = home
	}
	if shell, err := sssdStringProperty(userObj, "loginShell"); err == nil {
		info.Shell = shell
	}
	return info, nil
}

func sssdUint32Property(obj dbus.BusObject, name string) (uint32, error) {
	variant, err := obj.GetProperty(sssdUserIfc + "." + name)
	if err != nil {
		return 0, fmt.Errorf("sssd property %s: %w", name, err)
	}
	v, ok := variant.Value().(uint32)
	if !ok {
		return 0, fmt.Errorf("sssd property %s: unexpected type %T", name, variant.Value())
	}
	return v, nil
}

func sssdStringProperty(obj dbus.BusObject, name string) (string, error) {
	variant, err := obj.GetProperty(sssdUserIfc + "." + name)
	if err != nil {
		return "", err
	}
	v, _ := variant.Value().(string)
	return v, nil
}

// isSSSDNotFound matches the D-Bus errors InfoPipe reports for
// unknown users.
func isSSSDNotFound(err error) bool {
	var dbusErr dbus.Error
	if !errors.As(err, &dbusErr) {
		return false
	}
	switch dbusErr.Name {
	case "org.freedesktop.sssd.Error.NotFound",
		"sbus.Error.NotFound",
		"org.freedesktop.DBus.Error.Failed":
		return true
	}
	return false
}
