package handlers

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tvlink/server/internal/access"
	"github.com/tvlink/server/internal/dispatch"
	"github.com/tvlink/server/internal/middleware"
	"github.com/tvlink/server/internal/pairing"
)

// UserHandler serves the endpoints called by the web client on behalf of a user
type UserHandler struct {
	pairing    *pairing.Service
	access     *access.Service
	dispatcher *dispatch.Dispatcher
	logger     *zap.Logger
}

// NewUserHandler creates a new user handler
func NewUserHandler(pairing *pairing.Service, access *access.Service, dispatcher *dispatch.Dispatcher, logger *zap.Logger) *UserHandler {
	return &UserHandler{pairing: pairing, access: access, dispatcher: dispatcher, logger: logger}
}

type pairRequest struct {
	PairingCode string `json:"pairingCode"`
}

// HandlePair handles POST /tv/pair
func (h *UserHandler) HandlePair(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req pairRequest
	if !decodeBody(w, r, &req) {
		return
	}

	deviceID, err := h.pairing.RedeemCode(r.Context(), req.PairingCode, userID)
	if err != nil {
		switch {
		case errors.Is(err, pairing.ErrMissingCode):
			respondWithError(w, http.StatusBadRequest, "pairingCode is required")
		case errors.Is(err, pairing.ErrInvalidCode):
			respondWithError(w, http.StatusBadRequest, "Invalid or expired code")
		default:
			h.logger.Error("redeem pairing code failed", zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "failed to pair device")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"ok": true, "deviceId": deviceID})
}

type sendRequest struct {
	DeviceID string `json:"deviceId"`
	Action   string `json:"action"`
	CID      string `json:"cid"`
	URL      string `json:"url"`
}

type sendResponse struct {
	Status    dispatch.Status `json:"status"`
	CommandID string          `json:"commandId"`
}

// HandleSend handles POST /tv/send. Delivered answers 200; queued and failed
// pushes answer 202 so the client can tell an unconfirmed send apart.
func (h *UserHandler) HandleSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	cmd := dispatch.Command{Action: dispatch.Action(req.Action), CID: req.CID, URL: req.URL}
	res, err := h.dispatcher.SendCommand(r.Context(), userID, strings.TrimSpace(req.DeviceID), cmd)
	if err != nil {
		var verr *dispatch.ValidationError
		switch {
		case errors.As(err, &verr):
			respondWithError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, dispatch.ErrDeviceNotFound):
			respondWithError(w, http.StatusNotFound, "Device not found")
		case errors.Is(err, dispatch.ErrForbidden):
			respondWithError(w, http.StatusForbidden, "This TV is not linked to you")
		case errors.Is(err, dispatch.ErrNoChannel):
			respondWithError(w, http.StatusForbidden, "No FCM token for device")
		default:
			h.logger.Error("send command failed", zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "failed to send command")
		}
		return
	}

	code := http.StatusAccepted
	if res.Status == dispatch.StatusDelivered {
		code = http.StatusOK
	}
	respondJSON(w, code, sendResponse{Status: res.Status, CommandID: res.CommandID})
}

// HandleStatus handles GET /tv/status?deviceId=
func (h *UserHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	deviceID := strings.TrimSpace(r.URL.Query().Get("deviceId"))
	if deviceID == "" {
		respondWithError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	device, err := h.access.Status(r.Context(), userID, deviceID)
	if err != nil {
		switch {
		case errors.Is(err, access.ErrDeviceNotFound):
			respondWithError(w, http.StatusNotFound, "Device not found")
		case errors.Is(err, access.ErrNotLinked):
			respondWithError(w, http.StatusForbidden, "This TV is not linked to you")
		default:
			h.logger.Error("device status failed", zap.Error(err))
			respondWithError(w, http.StatusInternalServerError, "failed to load device")
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"deviceId":       device.ID,
		"hasPushAddress": device.HasPushAddress(),
	})
}

type unlinkRequest struct {
	DeviceID string `json:"deviceId"`
}

// HandleUnlink handles POST /tv/unlink, a user dropping its own link
func (h *UserHandler) HandleUnlink(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req unlinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	deviceID := strings.TrimSpace(req.DeviceID)
	if deviceID == "" {
		respondWithError(w, http.StatusBadRequest, "deviceId is required")
		return
	}

	removed, err := h.access.Unlink(r.Context(), userID, deviceID)
	if err != nil {
		h.logger.Error("unlink failed", zap.Error(err))
		respondWithError(w, http.StatusInternalServerError, "failed to unlink device")
		return
	}
	if !removed {
		respondWithError(w, http.StatusNotFound, "Link not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
