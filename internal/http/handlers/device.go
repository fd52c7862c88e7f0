package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/tvlink/server/internal/access"
	"github.com/tvlink/server/internal/auth"
	"github.com/tvlink/server/internal/dispatch"
	"github.com/tvlink/server/internal/middleware"
)

// DeviceHandler serves the endpoints called by TVs
type DeviceHandler struct {
	devices    *auth.DeviceService
	access     *access.Service
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewDeviceHandler creates a new device handler
func NewDeviceHandler(devices *auth.DeviceService, access *access.Service, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *DeviceHandler {
	return &DeviceHandler{devices: devices, access: access, dispatcher: dispatcher, logger: logger}
}

// registrationResponse is returned by register and code refresh
type registrationResponse struct {
	DeviceID     string `json:"deviceId"`
	DeviceSecret string `json:"deviceSecret"`
	PairingCode  string `json:"pairingCode"`
	ExpiresIn    int    `json:"expiresIn"`
}

func toRegistrationResponse(reg *auth.Registration) registrationResponse {
	return registrationResponse{
		DeviceID:     reg.DeviceID,
		DeviceSecret: reg.DeviceSecret,
		PairingCode:  reg.PairingCode,
		ExpiresIn:    int(reg.ExpiresIn.Seconds()),
	}
}

// HandleRegister handles POST /tv/register
func (h *DeviceHandler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	reg, err := h.devices.Register(r.Context())
	if err != nil {
		h.logger.Error("register device failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to register device")
		return
	}
	respondJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

// HandleRefreshCode handles POST /tv/code
func (h *DeviceHandler) HandleRefreshCode(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.GetDevice(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized device")
		return
	}

	reg, err := h.devices.RefreshPairingCodeFor(r.Context(), device)
	if err != nil {
		h.logger.Error("refresh pairing code failed", zap.String("device_id", device.ID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to issue pairing code")
		return
	}
	respondJSON(w, http.StatusOK, toRegistrationResponse(reg))
}

type pushAddressRequest struct {
	Address string `json:"address"`
}

// HandlePushAddress handles POST /tv/push-address
func (h *DeviceHandler) HandlePushAddress(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.GetDevice(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized device")
		return
	}

	var req pushAddressRequest
	if !decodeBody(w, r, &req) {
		return
	}

	n, err := h.devices.ReportPushAddressFor(r.Context(), device, req.Address)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrMissingAddress):
			respondWithError(w, http.StatusBadRequest, "address is required")
		case errors.Is(err, auth.ErrAddressTooLong):
			respondWithError(w, http.StatusBadRequest, "address is too long")
		default:
			h.logger.Error("save push address failed", zap.String("device_id", device.ID), zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "failed to save push address")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "savedLen": n})
}

type ackRequest struct {
	CommandID string `json:"commandId"`
}

// HandleAck handles POST /tv/ack. Unknown or foreign command ids answer ok=false.
func (h *DeviceHandler) HandleAck(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.GetDevice(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized device")
		return
	}

	var req ackRequest
	if !decodeBody(w, r, &req) {
		return
	}

	matched, err := h.dispatcher.Acknowledge(r.Context(), device.ID, strings.TrimSpace(req.CommandID))
	if err != nil {
		var verr *dispatch.ValidationError
		if errors.As(err, &verr) {
			respondWithError(w, http.StatusBadRequest, "commandId is required")
			return
		}
		h.logger.Error("acknowledge failed", zap.String("device_id", device.ID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to record acknowledgment")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": matched})
}

type linkedUser struct {
	UserID   string `json:"userId"`
	LinkedAt string `json:"linkedAt"`
}

// HandleListUsers handles GET /tv/users
func (h *DeviceHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.GetDevice(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized device")
		return
	}

	links, err := h.access.ListLinkedUsers(r.Context(), device.ID)
	if err != nil {
		h.logger.Error("list linked users failed", zap.String("device_id", device.ID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to list users")
		return
	}

	users := make([]linkedUser, 0, len(links))
	for _, l := range links {
		users = append(users, linkedUser{UserID: l.UserID, LinkedAt: l.CreatedAt.UTC().Format(time.RFC3339)})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"deviceId": device.ID,
		"count":    len(users),
		"users":    users,
	})
}

// HandleUnlinkUser handles DELETE /tv/users/{userID}. Idempotent.
func (h *DeviceHandler) HandleUnlinkUser(w http.ResponseWriter, r *http.Request) {
	device, ok := middleware.GetDevice(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized device")
		return
	}

	userID := strings.TrimSpace(chi.URLParam(r, "userID"))
	if userID == "" {
		respondWithError(w, http.StatusBadRequest, "userId is required")
		return
	}

	if _, err := h.access.Unlink(r.Context(), userID, device.ID); err != nil {
		h.logger.Error("unlink user failed", zap.String("device_id", device.ID), zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to unlink user")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
