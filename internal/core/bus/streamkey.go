// This file defines StreamKey, the name a publisher is registered under.

package bus

import (
	"strings"
)

// StreamKey uniquely identifies a stream by application and stream name.
// It is comparable and can be used as a map key.
type StreamKey struct {
	App  string // Application name (e.g., "live")
	Name string // Stream name (e.g., "mystream")
}

// String returns "app/name".
func (k StreamKey) String() string {
	return k.App + "/" + k.Name
}

// NewStreamKey creates a StreamKey. Any "?query" suffix on the name is dropped.
func NewStreamKey(app, name string) StreamKey {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	return StreamKey{
		App:  app,
		Name: name,
	}
}
