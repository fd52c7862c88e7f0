package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/tvlink/server/internal/auth"
	"github.com/tvlink/server/internal/model"
)

type contextKey string

const (
	deviceKey contextKey = "device"
	userIDKey contextKey = "user_id"
)

const (
	HeaderDeviceID  = "X-Device-Id"
	HeaderDeviceKey = "X-Device-Key"
	HeaderUserID    = "X-Auth-Uid"
	HeaderUserSig   = "X-Auth-Sig"
)

// DeviceAuthenticator checks a device id and secret pair.
type DeviceAuthenticator interface {
	Authenticate(ctx context.Context, deviceID, secret string) (model.Device, error)
}

// DeviceAuthMiddleware validates the device headers and attaches the device to context
func DeviceAuthMiddleware(authn DeviceAuthenticator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			deviceID := strings.TrimSpace(r.Header.Get(HeaderDeviceID))
			secret := strings.TrimSpace(r.Header.Get(HeaderDeviceKey))
			if deviceID == "" || secret == "" {
				respondWithError(w, http.StatusUnauthorized, "Missing device credentials")
				return
			}

			device, err := authn.Authenticate(r.Context(), deviceID, secret)
			if err != nil {
				if errors.Is(err, auth.ErrUnauthenticated) {
					respondWithError(w, http.StatusUnauthorized, "Unauthorized device")
					return
				}
				logger.Error("device authentication failed", zap.Error(err))
				respondWithError(w, http.StatusInternalServerError, "Internal server error")
				return
			}

			ctx := context.WithValue(r.Context(), deviceKey, device)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// UserAuthMiddleware checks the user id and its signature against the identity authority
func UserAuthMiddleware(verifier auth.UserVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			uid := strings.TrimSpace(r.Header.Get(HeaderUserID))
			sig := strings.TrimSpace(r.Header.Get(HeaderUserSig))
			if uid == "" || sig == "" {
				respondWithError(w, http.StatusUnauthorized, "Missing user credentials")
				return
			}
			if !verifier.Verify(uid, sig) {
				respondWithError(w, http.StatusUnauthorized, "Invalid user signature")
				return
			}

			ctx := context.WithValue(r.Context(), userIDKey, uid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDevice returns the device attached by DeviceAuthMiddleware
func GetDevice(ctx context.Context) (model.Device, bool) {
	d, ok := ctx.Value(deviceKey).(model.Device)
	return d, ok
}

// GetUserID returns the user id attached by UserAuthMiddleware
func GetUserID(ctx context.Context) (string, bool) {
	uid, ok := ctx.Value(userIDKey).(string)
	return uid, ok && uid != ""
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"detail": message}
	_ = json.NewEncoder(w).Encode(response)
}
