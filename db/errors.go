package db

import (
	"strings"

	"github.com/teranos/factwire/errors"
)

// ErrDatabaseClosed is returned when the journal is used after the engine
// closed its database during shutdown.
var ErrDatabaseClosed = errors.New("database is closed")

// IsDatabaseClosed reports whether err means the connection is closed.
// The sql driver returns its own error values, so the message is checked
// as well as the sentinel.
func IsDatabaseClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDatabaseClosed) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
