package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/devrelay/devrelay/lib/registry"
	"github.com/devrelay/devrelay/lib/storage"
)

type connectionsResponse struct {
	registry.Counts
	DeviceIDs []string `json:"deviceIds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnections(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, connectionsResponse{
		Counts:    s.registry.Counts(),
		DeviceIDs: s.registry.DeviceIDs(),
	})
}

func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.store.ListTenants(r.Context())
	if err != nil {
		internalError(w, "api.handleTenants", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(tenants))
}

// handleDevices lists devices scoped by tenantId or, failing that, userId.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var (
		devices []storage.Device
		err     error
	)
	switch {
	case q.Get("tenantId") != "":
		id, perr := parseID(q.Get("tenantId"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid tenantId")
			return
		}
		devices, err = s.store.ListDevicesByTenant(r.Context(), id)
	case q.Get("userId") != "":
		id, perr := parseID(q.Get("userId"))
		if perr != nil {
			writeError(w, http.StatusBadRequest, "Invalid userId")
			return
		}
		devices, err = s.store.ListDevicesByUser(r.Context(), id)
	default:
		writeError(w, http.StatusBadRequest, "tenantId or userId is required")
		return
	}
	if err != nil {
		internalError(w, "api.handleDevices", err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(devices))
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid device id")
		return
	}
	device, err := s.store.GetDevice(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Device not found")
		return
	}
	if err != nil {
		internalError(w, "api.handleDevice", err)
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, strconv.ErrRange
	}
	return id, nil
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}
