package server

import (
	"encoding/json"
	"fmt"
)

// CommandKind tags a ServerCommand. The set is closed: decoding an unknown
// tag is an error, never a silently ignored command.
type CommandKind string

const (
	CommandPrepareShutdown CommandKind = "PrepareShutdown"
	CommandConfigUpdate    CommandKind = "ConfigUpdate"
	CommandHealthCheck     CommandKind = "HealthCheck"
)

// ServerCommand is an instruction piggybacked on a heartbeat response from
// the proxy to a region server.
type ServerCommand struct {
	Kind CommandKind

	// PrepareShutdown: the server must reach stopped within this deadline.
	DeadlineSecs int
	// ConfigUpdate: opaque config document applied by the server.
	Config json.RawMessage
}

func PrepareShutdownCommand(deadlineSecs int) ServerCommand {
	return ServerCommand{Kind: CommandPrepareShutdown, DeadlineSecs: deadlineSecs}
}

func ConfigUpdateCommand(config json.RawMessage) ServerCommand {
	return ServerCommand{Kind: CommandConfigUpdate, Config: config}
}

func HealthCheckCommand() ServerCommand {
	return ServerCommand{Kind: CommandHealthCheck}
}

type serverCommandWire struct {
	Type         CommandKind     `json:"type"`
	DeadlineSecs int             `json:"deadline_secs,omitempty"`
	Config       json.RawMessage `json:"config,omitempty"`
}

func (c ServerCommand) MarshalJSON() ([]byte, error) {
	switch c.Kind {
	case CommandPrepareShutdown, CommandConfigUpdate, CommandHealthCheck:
	default:
		return nil, fmt.Errorf("server command: unknown kind %q", c.Kind)
	}
	return json.Marshal(serverCommandWire{
		Type:         c.Kind,
		DeadlineSecs: c.DeadlineSecs,
		Config:       c.Config,
	})
}

func (c *ServerCommand) UnmarshalJSON(b []byte) error {
	var w serverCommandWire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	switch w.Type {
	case CommandPrepareShutdown, CommandConfigUpdate, CommandHealthCheck:
	default:
		return fmt.Errorf("server command: unknown kind %q", w.Type)
	}
	c.Kind = w.Type
	c.DeadlineSecs = w.DeadlineSecs
	c.Config = w.Config
	return nil
}
