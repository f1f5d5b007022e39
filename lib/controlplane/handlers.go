// Copyright 2026 The Roost Authors
// SPDX-License-Identifier: Apache-2.0

package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/gorilla/mux"

	"github.com/roost-sh/roost/lib/store"
)

// tenantIDPattern is the accepted tenant identifier shape. The boot
// callback arrives from a freshly booted VM, so the id is validated
// before it touches the store.
var tenantIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{0,63}$`)

func (server *Server) routes(metricsHandler http.Handler) http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/v1/tenants/{tenantID}/boot-callback", server.handleBootCallback).Methods(http.MethodPost)
	router.HandleFunc("/v1/tenants/{tenantID}/provision", server.handleProvision).Methods(http.MethodPost)
	router.HandleFunc("/v1/tenants/{tenantID}/deprovision", server.handleDeprovision).Methods(http.MethodPost)
	router.HandleFunc("/v1/tenants/{tenantID}/status", server.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/healthz", server.handleHealthz).Methods(http.MethodGet)
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
	}
	return server.requestLog(router)
}

// tenantID extracts and validates the path's tenant identifier,
// writing the error response itself when the shape is wrong.
func (server *Server) tenantID(writer http.ResponseWriter, request *http.Request) (string, bool) {
	tenantID := mux.Vars(request)["tenantID"]
	if !tenantIDPattern.MatchString(tenantID) {
		writeError(writer, http.StatusBadRequest, "invalid tenant id")
		return "", false
	}
	return tenantID, true
}

// bootCallbackRequest is the payload a booting VM POSTs once
// first-boot configuration finishes.
type bootCallbackRequest struct {
	ServerID int64  `json:"server_id"`
	Hostname string `json:"hostname"`
}

func (server *Server) handleBootCallback(writer http.ResponseWriter, request *http.Request) {
	tenantID, ok := server.tenantID(writer, request)
	if !ok {
		return
	}

	var callback bootCallbackRequest
	if err := json.NewDecoder(request.Body).Decode(&callback); err != nil {
		writeError(writer, http.StatusBadRequest, "invalid callback body")
		return
	}

	if err := server.provisioner.SignalBoot(request.Context(), tenantID, callback.Hostname); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(writer, http.StatusNotFound, "unknown tenant")
			return
		}
		server.logger.Error("boot callback", "tenant_id", tenantID, "error", err)
		writeError(writer, http.StatusInternalServerError, "recording callback failed")
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func (server *Server) handleProvision(writer http.ResponseWriter, request *http.Request) {
	tenantID, ok := server.tenantID(writer, request)
	if !ok {
		return
	}
	if _, err := server.store.FindVM(request.Context(), tenantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(writer, http.StatusNotFound, "unknown tenant")
			return
		}
		writeError(writer, http.StatusInternalServerError, "loading tenant failed")
		return
	}

	// Provisioning outlives the request; the run persists its own
	// outcome.
	runCtx := context.WithoutCancel(request.Context())
	go func() {
		if err := server.provisioner.Provision(runCtx, tenantID); err != nil {
			server.logger.Error("provisioning run failed", "tenant_id", tenantID, "error", err)
		}
	}()
	writeJSON(writer, http.StatusAccepted, map[string]string{"status": "provisioning"})
}

func (server *Server) handleDeprovision(writer http.ResponseWriter, request *http.Request) {
	tenantID, ok := server.tenantID(writer, request)
	if !ok {
		return
	}
	if err := server.deprovisioner.Deprovision(request.Context(), tenantID); err != nil {
		server.logger.Error("deprovision", "tenant_id", tenantID, "error", err)
		writeError(writer, http.StatusInternalServerError, "deprovision failed")
		return
	}
	writeJSON(writer, http.StatusOK, map[string]string{"status": "deprovisioned"})
}

// statusResponse projects a tenant's VM and health records. Encrypted
// fields are excluded by the record types' JSON tags.
type statusResponse struct {
	VM     *store.VMRecord     `json:"vm"`
	Health *store.HealthRecord `json:"health,omitempty"`
}

func (server *Server) handleStatus(writer http.ResponseWriter, request *http.Request) {
	tenantID, ok := server.tenantID(writer, request)
	if !ok {
		return
	}

	vm, err := server.store.FindVM(request.Context(), tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(writer, http.StatusNotFound, "unknown tenant")
			return
		}
		writeError(writer, http.StatusInternalServerError, "loading tenant failed")
		return
	}

	response := statusResponse{VM: vm}
	if health, err := server.store.FindHealth(request.Context(), tenantID); err == nil {
		response.Health = health
	}
	writeJSON(writer, http.StatusOK, response)
}

func (server *Server) handleHealthz(writer http.ResponseWriter, request *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(writer http.ResponseWriter, status int, body any) {
	writer.Header().Set("Content-Type", "application/json")
	writer.WriteHeader(status)
	json.NewEncoder(writer).Encode(body)
}

func writeError(writer http.ResponseWriter, status int, message string) {
	writeJSON(writer, status, map[string]string{"error": message})
}
