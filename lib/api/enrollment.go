package api

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/samber/oops"

	"github.com/devrelay/devrelay/lib/storage"
	"github.com/devrelay/devrelay/lib/util/logger"
)

// tokenBytes is the random length of an enrollment token before hex encoding.
const tokenBytes = 16

type createTokenRequest struct {
	TenantID      int64  `json:"tenantId"`
	Platform      string `json:"platform"`
	AssignedGroup string `json:"assignedGroup"`
	UserEmail     string `json:"userEmail"`
}

type validateTokenResponse struct {
	Valid    bool   `json:"valid"`
	Platform string `json:"platform"`
	TenantID int64  `json:"tenantId"`
}

type enrollRequest struct {
	Token  string          `json:"token"`
	Device *storage.Device `json:"device"`
}

func newEnrollmentToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", oops.Wrapf(err, "generate enrollment token")
	}
	return hex.EncodeToString(b), nil
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data")
		return
	}
	req.Platform = strings.ToLower(strings.TrimSpace(req.Platform))
	if req.TenantID <= 0 || !storage.ValidPlatform(req.Platform) {
		writeError(w, http.StatusBadRequest, "Invalid data")
		return
	}

	if _, err := s.store.GetTenant(r.Context(), req.TenantID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Tenant not found")
			return
		}
		internalError(w, "api.handleCreateToken", err)
		return
	}

	value, err := newEnrollmentToken()
	if err != nil {
		internalError(w, "api.handleCreateToken", err)
		return
	}
	token, err := s.store.CreateEnrollmentToken(r.Context(), storage.EnrollmentToken{
		Token:         value,
		TenantID:      req.TenantID,
		Platform:      req.Platform,
		AssignedGroup: req.AssignedGroup,
		UserEmail:     req.UserEmail,
		ExpiresAt:     s.opts.Now().Add(s.opts.TokenTTL).UTC(),
	})
	if err != nil {
		internalError(w, "api.handleCreateToken", err)
		return
	}

	log.WithFields(logger.Fields{
		"at":        "api.handleCreateToken",
		"tenant_id": token.TenantID,
		"platform":  token.Platform,
	}).Info("enrollment_token_issued")
	writeJSON(w, http.StatusCreated, token)
}

// lookupUsableToken answers the request itself and returns false when the
// token cannot be used.
func (s *Server) lookupUsableToken(w http.ResponseWriter, r *http.Request, value, at string) (storage.EnrollmentToken, bool) {
	token, err := s.store.GetEnrollmentToken(r.Context(), value)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Token not found")
			return storage.EnrollmentToken{}, false
		}
		internalError(w, at, err)
		return storage.EnrollmentToken{}, false
	}

	switch err := token.Usable(s.opts.Now()); {
	case errors.Is(err, storage.ErrTokenUsed):
		writeError(w, http.StatusBadRequest, "Token already used")
		return storage.EnrollmentToken{}, false
	case errors.Is(err, storage.ErrTokenExpired):
		writeError(w, http.StatusBadRequest, "Token expired")
		return storage.EnrollmentToken{}, false
	}
	return token, true
}

func (s *Server) handleValidateToken(w http.ResponseWriter, r *http.Request) {
	token, ok := s.lookupUsableToken(w, r, chi.URLParam(r, "token"), "api.handleValidateToken")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, validateTokenResponse{
		Valid:    true,
		Platform: token.Platform,
		TenantID: token.TenantID,
	})
}

// handleEnroll creates the device under the token's tenant and then spends
// the token.
func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data")
		return
	}
	if req.Token == "" || req.Device == nil {
		writeError(w, http.StatusBadRequest, "Missing token or device data")
		return
	}

	token, ok := s.lookupUsableToken(w, r, req.Token, "api.handleEnroll")
	if !ok {
		return
	}

	now := s.opts.Now().UTC()
	d := *req.Device
	d.ID = 0
	d.TenantID = token.TenantID
	d.EnrollmentDate = &now
	d.LastSeen = &now
	if d.Platform == "" {
		d.Platform = token.Platform
	}
	if err := d.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid data")
		return
	}

	device, err := s.store.CreateDevice(r.Context(), d)
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			writeError(w, http.StatusConflict, "Device already enrolled")
			return
		}
		internalError(w, "api.handleEnroll", err)
		return
	}

	if err := s.store.MarkEnrollmentTokenUsed(r.Context(), token.ID); err != nil {
		internalError(w, "api.handleEnroll", err)
		return
	}

	log.WithFields(logger.Fields{
		"at":        "api.handleEnroll",
		"device_id": device.DeviceID,
		"tenant_id": device.TenantID,
	}).Info("device_enrolled")
	writeJSON(w, http.StatusCreated, device)
}
