package server

// ServerStatus is the self-reported lifecycle state of a region server.
// Exactly one status holds at a time. The proxy's observed liveness state
// (registry package) is tracked separately and never overwrites this.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusRunning  ServerStatus = "running"
	StatusDraining ServerStatus = "draining"
	StatusStopped  ServerStatus = "stopped"
	StatusError    ServerStatus = "error"
)

func (s ServerStatus) Valid() bool {
	switch s {
	case StatusStarting, StatusRunning, StatusDraining, StatusStopped, StatusError:
		return true
	}
	return false
}

// CanTransitionTo enforces the lifecycle:
// starting -> running -> draining -> stopped, and any live state -> error.
// stopped and error are terminal; recovery is a new registration.
func (s ServerStatus) CanTransitionTo(next ServerStatus) bool {
	if !next.Valid() || next == s {
		return false
	}
	switch s {
	case StatusStarting:
		return next == StatusRunning || next == StatusError
	case StatusRunning:
		return next == StatusDraining || next == StatusError
	case StatusDraining:
		return next == StatusStopped || next == StatusError
	case StatusStopped, StatusError:
		return false
	}
	return false
}

// AcceptsNewPlayers is true only while running. A draining server keeps
// serving existing players and answering heartbeats but admits nobody new.
func (s ServerStatus) AcceptsNewPlayers() bool {
	return s == StatusRunning
}

// Terminal reports whether the server can leave this status without a new
// registration.
func (s ServerStatus) Terminal() bool {
	return s == StatusStopped || s == StatusError
}

func (s ServerStatus) String() string { return string(s) }
