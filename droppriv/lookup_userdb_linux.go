//go:build linux

package droppriv

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"
)

// userDBSocket is the multiplexer socket of systemd-userdbd. It
// aggregates every userdb provider on the system, including the
// classic files.
const userDBSocket = "/run/systemd/userdb/io.systemd.Multiplexer"

const userDBTimeout = 2 * time.Second

// UserDBStrategy resolves users through the systemd user database
// varlink service.
type UserDBStrategy struct {
	socketPath string
}

// NewUserDBStrategy returns a strategy bound to the system userdb
// socket, or ErrStrategyNotAvailable if the socket does not exist.
func NewUserDBStrategy() (*UserDBStrategy, error) {
	return newUserDBStrategy(userDBSocket)
}

func newUserDBStrategy(socketPath string) (*UserDBStrategy, error) {
	if _, err := os.Stat(socketPath); err != nil {
		return nil, ErrStrategyNotAvailable
	}
	return &UserDBStrategy{socketPath: socketPath}, nil
}

func (s *UserDBStrategy) Name() string {
	return "systemd-userdb"
}

type userDBCall struct {
	Method     string           `json:"method"`
	Parameters userDBParameters `json:"parameters"`
}

type userDBParameters struct {
	UserName string `json:"userName"`
	Service  string `json:"service"`
}

type userDBReply struct {
	Error      string `json:"error,omitempty"`
	Parameters struct {
		Record struct {
			UserName      string `json:"userName"`
			UID           uint32 `json:"uid"`
			GID           uint32 `json:"gid"`
			HomeDirectory string `json:"homeDirectory"`
			Shell         string `json:"shell"`
		} `json:"record"`
		Incomplete bool `json:"incomplete"`
	} `json:"parameters"`
}

// LookupUser performs a GetUserRecord varlink call. Messages on the
// wire are JSON objects terminated by a NUL byte.
func (s *UserDBStrategy) LookupUser(ctx context.Context, username string) (*UserInfo, error) {
	dialer := net.Dialer{Timeout: userDBTimeout}
	conn, err := dialer.DialContext(ctx, "unix", s.socketPath)
	if err != nil {
		return nil, ErrStrategyNotAvailable
	}
	defer conn.Close()

	deadline := time.Now().Add(userDBTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("userdb: setting deadline: %w", err)
	}

	call := userDBCall{
		Method: "io.systemd.UserDatabase.GetUserRecord",
		Parameters: userDBParameters{
			UserName: username,
			Service:  "io.systemd.Multiplexer",
		},
	}
	payload, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("userdb: encoding call: %w", err)
	}
	if _, err := conn.Write(append(payload, 0)); err != nil {
		return nil, fmt.Errorf("userdb: sending call: %w", err)
	}

	raw, err := bufio.NewReader(conn).ReadBytes(0)
	if err != nil {
		return nil, fmt.Errorf("userdb: reading reply: %w", err)
	}

	var reply userDBReply
	if err := json.Unmarshal(raw[:len(raw)-1], &reply); err != nil {
		return nil, fmt.Errorf("userdb: decoding reply: %w", err)
	}

	switch reply.Error {
	case "":
	case "io.systemd.UserDatabase.NoRecordFound":
		return nil, &ErrUserNotFound{Username: username}
	case "io.systemd.UserDatabase.ServiceNotAvailable", "io.systemd.UserDatabase.BadService":
		return nil, ErrStrategyNotAvailable
	default:
		return nil, fmt.Errorf("userdb: %s", reply.Error)
	}

	record := reply.Parameters.Record
	if record.UserName == "" {
		return nil, fmt.Errorf("userdb: reply carries no user record")
	}

	return &UserInfo{
		UID:      record.UID,
		GID:      record.GID,
		Username: record.UserName,
		HomeDir:  record.HomeDirectory,
		Shell:    record.Shell,
	}, nil
}
