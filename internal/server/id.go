package server

import (
	"fmt"

	"github.com/google/uuid"
)

// ServerID identifies one region server instance. It is string-keyed on the
// wire for REST compatibility but always carries UUID text, so it round
// trips losslessly to the UUID form.
type ServerID string

// NewServerID returns a fresh random server id.
func NewServerID() ServerID {
	return ServerID(uuid.NewString())
}

// ParseServerID validates s as UUID text. Use at REST ingress; the
// structured protocol trusts ids already validated at the boundary.
func ParseServerID(s string) (ServerID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("server id %q: %w", s, err)
	}
	return ServerID(u.String()), nil
}

func (id ServerID) String() string { return string(id) }

// UUID returns the typed form. Fails only when the id did not come through
// ParseServerID or NewServerID.
func (id ServerID) UUID() (uuid.UUID, error) {
	return uuid.Parse(string(id))
}

func (id ServerID) IsZero() bool { return id == "" }
