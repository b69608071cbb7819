package protocol

import (
	"fmt"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

// Atlas proxy -> maestro command tags. Maestro is only ever reached with
// spawn/stop/stats/scale keyed by region or instance; the per-player
// transfer path never touches it.
const (
	TypeSpawnServer    = "SpawnServer"
	TypeStopServer     = "StopServer"
	TypeGetServerStats = "GetServerStats"
	TypeScaleCluster   = "ScaleCluster"
)

// Maestro -> atlas proxy message tags.
const (
	TypeSpawnResponse = "SpawnResponse"
	TypeServerStopped = "ServerStopped"
	TypeServerStats   = "ServerStats"
	TypeClusterScaled = "ClusterScaled"
	TypeError         = "Error"
)

// OrchestratorCommand is any command the proxy sends to maestro.
type OrchestratorCommand interface {
	orchestratorCommandType() string
}

type SpawnServerMsg struct {
	server.SpawnServerRequest
}

type StopServerMsg struct {
	InstanceID string `json:"instance_id"`
	Graceful   bool   `json:"graceful"`
}

type GetServerStatsMsg struct {
	InstanceID string `json:"instance_id"`
}

type ScaleClusterMsg struct {
	TargetCount int `json:"target_count"`
}

func (SpawnServerMsg) orchestratorCommandType() string    { return TypeSpawnServer }
func (StopServerMsg) orchestratorCommandType() string     { return TypeStopServer }
func (GetServerStatsMsg) orchestratorCommandType() string { return TypeGetServerStats }
func (ScaleClusterMsg) orchestratorCommandType() string   { return TypeScaleCluster }

func EncodeOrchestratorCommand(m OrchestratorCommand) ([]byte, error) {
	return encodeTagged(m.orchestratorCommandType(), m)
}

func DecodeOrchestratorCommand(b []byte) (OrchestratorCommand, error) {
	w, err := decodeTagged(b)
	if err != nil {
		return nil, err
	}
	switch w.Type {
	case TypeSpawnServer:
		var m SpawnServerMsg
		return m, decodePayload(w, &m)
	case TypeStopServer:
		var m StopServerMsg
		return m, decodePayload(w, &m)
	case TypeGetServerStats:
		var m GetServerStatsMsg
		return m, decodePayload(w, &m)
	case TypeScaleCluster:
		var m ScaleClusterMsg
		return m, decodePayload(w, &m)
	}
	return nil, fmt.Errorf("orchestrator command: unknown type %q", w.Type)
}

// OrchestratorMessage is any message maestro sends back to the proxy.
type OrchestratorMessage interface {
	orchestratorMessageType() string
}

type SpawnResponseMsg struct {
	server.SpawnServerResponse
}

type ServerStoppedMsg struct {
	InstanceID string `json:"instance_id"`
	ExitCode   *int   `json:"exit_code,omitempty"`
}

type ServerStatsMsg struct {
	InstanceID string  `json:"instance_id"`
	CPUPercent float64 `json:"cpu_percent"`
	MemoryMB   int     `json:"memory_mb"`
	Running    bool    `json:"running"`
}

type ClusterScaledMsg struct {
	CurrentCount int `json:"current_count"`
	TargetCount  int `json:"target_count"`
}

type ErrorMsg struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

func (SpawnResponseMsg) orchestratorMessageType() string { return TypeSpawnResponse }
func (ServerStoppedMsg) orchestratorMessageType() string { return TypeServerStopped }
func (ServerStatsMsg) orchestratorMessageType() string   { return TypeServerStats }
func (ClusterScaledMsg) orchestratorMessageType() string { return TypeClusterScaled }
func (ErrorMsg) orchestratorMessageType() string         { return TypeError }

func EncodeOrchestratorMessage(m OrchestratorMessage) ([]byte, error) {
	return encodeTagged(m.orchestratorMessageType(), m)
}

func DecodeOrchestratorMessage(b []byte) (OrchestratorMessage, error) {
	w, err := decodeTagged(b)
	if err != nil {
		return nil, err
	}
	switch w.Type {
	case TypeSpawnResponse:
		var m SpawnResponseMsg
		return m, decodePayload(w, &m)
	case TypeServerStopped:
		var m ServerStoppedMsg
		return m, decodePayload(w, &m)
	case TypeServerStats:
		var m ServerStatsMsg
		return m, decodePayload(w, &m)
	case TypeClusterScaled:
		var m ClusterScaledMsg
		return m, decodePayload(w, &m)
	case TypeError:
		var m ErrorMsg
		return m, decodePayload(w, &m)
	}
	return nil, fmt.Errorf("orchestrator message: unknown type %q", w.Type)
}
