package channel

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	// MessageLogin announces that the session was established.
	MessageLogin = "_login"
	// MessageLogout announces that the session was ended.
	MessageLogout = "_logout"

	reservedPrefix = "_"
)

type heartbeatKind int

const (
	kindAlive heartbeatKind = iota + 1
	kindNew
	kindLeft
)

func (k heartbeatKind) String() string {
	switch k {
	case kindAlive:
		return "alive"
	case kindNew:
		return "isnew"
	case kindLeft:
		return "left"
	default:
		return "unknown"
	}
}

var heartbeatKinds = map[string]heartbeatKind{
	"alive": kindAlive,
	"isnew": kindNew,
	"left":  kindLeft,
}

type heartbeat struct {
	kind heartbeatKind
	id   int64
	at   time.Time
}

func formatHeartbeat(k heartbeatKind, id int64, at time.Time) string {
	return k.String() + ":" + strconv.FormatInt(id, 10) + ":" + strconv.FormatInt(at.UnixMilli(), 10)
}

// parseHeartbeat reports ok=false when msg is not a heartbeat at all, and
// ok=true with a non-nil error when it is one but cannot be decoded.
func parseHeartbeat(msg string) (hb heartbeat, ok bool, err error) {
	prefix, rest, found := strings.Cut(msg, ":")
	if !found {
		return heartbeat{}, false, nil
	}
	kind, known := heartbeatKinds[prefix]
	if !known {
		return heartbeat{}, false, nil
	}
	rawID, rawAt, found := strings.Cut(rest, ":")
	if !found {
		return heartbeat{}, true, fmt.Errorf("heartbeat %q: missing timestamp", msg)
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return heartbeat{}, true, fmt.Errorf("heartbeat %q: id: %w", msg, err)
	}
	at, err := strconv.ParseInt(rawAt, 10, 64)
	if err != nil {
		return heartbeat{}, true, fmt.Errorf("heartbeat %q: timestamp: %w", msg, err)
	}
	return heartbeat{kind: kind, id: id, at: time.UnixMilli(at)}, true, nil
}

// IsReserved reports whether msg belongs to the channel protocol rather than
// to the application.
func IsReserved(msg string) bool {
	if strings.HasPrefix(msg, reservedPrefix) {
		return true
	}
	prefix, _, found := strings.Cut(msg, ":")
	if !found {
		return false
	}
	_, known := heartbeatKinds[prefix]
	return known
}
