package main

import (
	"encoding/json"
	"net/http"

	"github.com/Far-Beyond-Dev/horizon-mesh/internal/metrics"
	"github.com/Far-Beyond-Dev/horizon-mesh/internal/server"
)

// restAPI is the flat-JSON alternative to the websocket mesh: registration
// and heartbeat over plain HTTP for servers that cannot hold a socket
// (spot instances behind aggressive LBs, mostly). Identifier and bounds
// validation happens here, at the boundary; everything behind it works
// with parsed types only.
type restAPI struct {
	handler *meshHandler
}

func (a *restAPI) register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/register", a.handleRegister)
	mux.HandleFunc("/api/v1/heartbeat", a.handleHeartbeat)
}

func (a *restAPI) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var dto server.ApiServerRegistration
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	info, err := dto.ToServerInfo()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	reg := server.NewServerRegistration(info)
	if err := a.handler.registry.Register(reg); err != nil {
		writeJSON(w, http.StatusConflict, server.ApiRegistrationResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	metrics.RegisteredServers.Set(float64(a.handler.registry.Len()))

	resp := server.RegistrationResponse{
		Success:               true,
		ServerID:              info.ID,
		Message:               "registered",
		HeartbeatIntervalSecs: int(a.handler.cfg.HeartbeatInterval.Seconds()),
		AdjacentServers:       a.handler.registry.AdjacentServers(info.RegionCoord),
	}
	writeJSON(w, http.StatusOK, server.ApiResponseFromRegistration(resp))
}

func (a *restAPI) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var dto server.ApiServerHeartbeat
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	hb, err := dto.ToServerHeartbeat()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := a.handler.registry.ApplyHeartbeat(hb); err != nil {
		metrics.HeartbeatsTotal.WithLabelValues("rejected").Inc()
		writeJSON(w, http.StatusConflict, server.ApiHeartbeatResponse{
			Success: false,
			Message: err.Error(),
		})
		return
	}
	metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, server.ApiHeartbeatResponse{Success: true})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
