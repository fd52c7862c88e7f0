package tests

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvlink/server/internal/repo"
)

// registerResponse matches POST /tv/register and POST /tv/code
type registerResponse struct {
	DeviceID     string `json:"deviceId"`
	DeviceSecret string `json:"deviceSecret"`
	PairingCode  string `json:"pairingCode"`
	ExpiresIn    int    `json:"expiresIn"`
}

// sendResponse matches POST /tv/send
type sendResponse struct {
	Status    string `json:"status"`
	CommandID string `json:"commandId"`
}

// usersResponse matches GET /tv/users
type usersResponse struct {
	DeviceID string `json:"deviceId"`
	Count    int    `json:"count"`
	Users    []struct {
		UserID string `json:"userId"`
	} `json:"users"`
}

// errorResponse matches error JSON body
type errorResponse struct {
	Detail string `json:"detail"`
}

type client struct {
	t    *testing.T
	h    *Harness
	http *http.Client
}

func newClient(t *testing.T, h *Harness) *client {
	return &client{t: t, h: h, http: h.Server.Client()}
}

// do sends a JSON request and decodes the JSON response into out when out is non-nil.
func (c *client) do(method, path string, headers map[string]string, body, out any) int {
	c.t.Helper()

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(c.t, err)
		rdr = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.h.BaseURL()+path, rdr)
	require.NoError(c.t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	require.NoError(c.t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	if out != nil {
		require.NoError(c.t, json.Unmarshal(raw, out), "body: %s", raw)
	}
	return resp.StatusCode
}

func deviceHeaders(reg registerResponse) map[string]string {
	return map[string]string{"X-Device-Id": reg.DeviceID, "X-Device-Key": reg.DeviceSecret}
}

func (c *client) userHeaders(uid string) map[string]string {
	c.t.Helper()
	sig, err := c.h.Verifier.Sign(uid, time.Hour)
	require.NoError(c.t, err)
	return map[string]string{"X-Auth-Uid": uid, "X-Auth-Sig": sig}
}

func otherCode(code string) string {
	if code == "999999" {
		return "000000"
	}
	return "999999"
}

// runTVFlow drives one device and two users through pairing, dispatch and unlinking.
func runTVFlow(t *testing.T, h *Harness) {
	c := newClient(t, h)
	alice := c.userHeaders("web-alice")
	mallory := c.userHeaders("web-mallory")

	var reg registerResponse

	t.Run("A_Health", func(t *testing.T) {
		var body map[string]string
		assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/health", nil, nil, &body))
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("B_Register", func(t *testing.T) {
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/register", nil, nil, &reg))
		assert.NotEmpty(t, reg.DeviceID)
		assert.Len(t, reg.DeviceSecret, 64)
		assert.Regexp(t, `^\d{6}$`, reg.PairingCode)
		assert.Equal(t, 180, reg.ExpiresIn)

		var second registerResponse
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/register", nil, nil, &second))
		assert.NotEqual(t, reg.DeviceID, second.DeviceID)
	})

	t.Run("C_Pair", func(t *testing.T) {
		var e errorResponse
		assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/tv/pair", nil, map[string]string{"pairingCode": reg.PairingCode}, &e))

		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tv/pair", alice, map[string]string{}, &e))
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tv/pair", alice, map[string]string{"pairingCode": otherCode(reg.PairingCode)}, &e))

		var ok struct {
			OK       bool   `json:"ok"`
			DeviceID string `json:"deviceId"`
		}
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/pair", alice, map[string]string{"pairingCode": reg.PairingCode}, &ok))
		assert.True(t, ok.OK)
		assert.Equal(t, reg.DeviceID, ok.DeviceID)

		var again errorResponse
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tv/pair", alice, map[string]string{"pairingCode": reg.PairingCode}, &again))
		assert.Equal(t, e.Detail, again.Detail, "used and unknown codes look the same")
	})

	t.Run("D_SendWithoutPushAddress", func(t *testing.T) {
		var e errorResponse
		code := c.do(http.MethodPost, "/tv/send", alice, map[string]string{"deviceId": reg.DeviceID, "action": "playUrl", "url": "http://x"}, &e)
		assert.Equal(t, http.StatusForbidden, code)
		assert.Equal(t, "No FCM token for device", e.Detail)
		assert.Empty(t, h.Gateway.Calls())
	})

	t.Run("E_PushAddressAndStatus", func(t *testing.T) {
		var e errorResponse
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tv/push-address", deviceHeaders(reg), map[string]string{"address": "  "}, &e))
		assert.Equal(t, "address is required", e.Detail)
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tv/push-address", deviceHeaders(reg), map[string]string{"address": strings.Repeat("t", 4097)}, &e))
		assert.Equal(t, "address is too long", e.Detail)

		var saved struct {
			OK       bool `json:"ok"`
			SavedLen int  `json:"savedLen"`
		}
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/push-address", deviceHeaders(reg), map[string]string{"address": "fcm-token-1"}, &saved))
		assert.Equal(t, len("fcm-token-1"), saved.SavedLen)

		var status struct {
			OK             bool   `json:"ok"`
			DeviceID       string `json:"deviceId"`
			HasPushAddress bool   `json:"hasPushAddress"`
		}
		require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/tv/status?deviceId="+reg.DeviceID, alice, nil, &status))
		assert.True(t, status.HasPushAddress)

		assert.Equal(t, http.StatusForbidden, c.do(http.MethodGet, "/tv/status?deviceId="+reg.DeviceID, mallory, nil, &e))
		assert.Equal(t, http.StatusNotFound, c.do(http.MethodGet, "/tv/status?deviceId=nope", alice, nil, &e))
	})

	t.Run("F_SendDelivered", func(t *testing.T) {
		acked := make(chan bool, 1)
		h.Gateway.SetOnSend(func(call PushCall) {
			go func() {
				var res struct {
					OK bool `json:"ok"`
				}
				c.do(http.MethodPost, "/tv/ack", deviceHeaders(reg), map[string]string{"commandId": call.Data["commandId"]}, &res)
				acked <- res.OK
			}()
		})
		defer h.Gateway.SetOnSend(nil)

		var res sendResponse
		code := c.do(http.MethodPost, "/tv/send", alice, map[string]string{"deviceId": reg.DeviceID, "action": "acestream", "cid": "0123abcd"}, &res)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, "delivered", res.Status)
		assert.True(t, <-acked)

		calls := h.Gateway.Calls()
		last := calls[len(calls)-1]
		assert.Equal(t, "fcm-token-1", last.Address)
		assert.Equal(t, "acestream", last.Data["action"])
		assert.Equal(t, "0123abcd", last.Data["cid"])
		assert.Equal(t, res.CommandID, last.Data["commandId"])
	})

	t.Run("G_SendQueuedWithoutAck", func(t *testing.T) {
		var res sendResponse
		code := c.do(http.MethodPost, "/tv/send", alice, map[string]string{"deviceId": reg.DeviceID, "action": "playUrl", "url": "https://cdn.example/live.m3u8"}, &res)
		assert.Equal(t, http.StatusAccepted, code)
		assert.Equal(t, "queued_no_ack", res.Status)

		// the late ack still matches, a second one does not
		var ack struct {
			OK bool `json:"ok"`
		}
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/ack", deviceHeaders(reg), map[string]string{"commandId": res.CommandID}, &ack))
		assert.True(t, ack.OK)
	})

	t.Run("H_SendFailed", func(t *testing.T) {
		h.Gateway.SetFail(errors.New("registration-token-not-registered"))
		defer h.Gateway.SetFail(nil)

		var res sendResponse
		code := c.do(http.MethodPost, "/tv/send", alice, map[string]string{"deviceId": reg.DeviceID, "action": "acestream", "cid": "abc"}, &res)
		assert.Equal(t, http.StatusAccepted, code)
		assert.Equal(t, "send_failed", res.Status)
	})

	t.Run("I_SendValidationAndAccess", func(t *testing.T) {
		var e errorResponse
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tv/send", alice, map[string]string{"deviceId": reg.DeviceID, "action": "acestream"}, &e))
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tv/send", alice, map[string]string{"deviceId": reg.DeviceID, "action": "reboot"}, &e))
		assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/tv/send", alice, map[string]string{"deviceId": "missing", "action": "acestream", "cid": "abc"}, &e))
		assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/tv/send", mallory, map[string]string{"deviceId": reg.DeviceID, "action": "acestream", "cid": "abc"}, &e))
		assert.Equal(t, "This TV is not linked to you", e.Detail)
	})

	t.Run("J_AckGuards", func(t *testing.T) {
		var e errorResponse
		assert.Equal(t, http.StatusBadRequest, c.do(http.MethodPost, "/tv/ack", deviceHeaders(reg), map[string]string{}, &e))
		bad := registerResponse{DeviceID: reg.DeviceID, DeviceSecret: "wrong"}
		assert.Equal(t, http.StatusUnauthorized, c.do(http.MethodPost, "/tv/ack", deviceHeaders(bad), map[string]string{"commandId": "x"}, &e))
	})

	t.Run("K_DeviceManagesUsers", func(t *testing.T) {
		var users usersResponse
		require.Equal(t, http.StatusOK, c.do(http.MethodGet, "/tv/users", deviceHeaders(reg), nil, &users))
		assert.Equal(t, reg.DeviceID, users.DeviceID)
		require.Equal(t, 1, users.Count)
		assert.Equal(t, "web-alice", users.Users[0].UserID)

		var ok map[string]bool
		require.Equal(t, http.StatusOK, c.do(http.MethodDelete, "/tv/users/web-alice", deviceHeaders(reg), nil, &ok))
		assert.True(t, ok["ok"])

		var e errorResponse
		assert.Equal(t, http.StatusForbidden, c.do(http.MethodPost, "/tv/send", alice, map[string]string{"deviceId": reg.DeviceID, "action": "acestream", "cid": "abc"}, &e))
	})

	t.Run("L_RefreshCodeAndUserUnlink", func(t *testing.T) {
		var fresh registerResponse
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/code", deviceHeaders(reg), nil, &fresh))
		assert.Equal(t, reg.DeviceID, fresh.DeviceID)
		assert.Equal(t, reg.DeviceSecret, fresh.DeviceSecret, "secret is not rotated")
		assert.Regexp(t, `^\d{6}$`, fresh.PairingCode)

		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/pair", alice, map[string]string{"pairingCode": fresh.PairingCode}, nil))

		var ok map[string]bool
		require.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/unlink", alice, map[string]string{"deviceId": reg.DeviceID}, &ok))
		var e errorResponse
		assert.Equal(t, http.StatusNotFound, c.do(http.MethodPost, "/tv/unlink", alice, map[string]string{"deviceId": reg.DeviceID}, &e))
	})
}

func TestTVFlowMemory(t *testing.T) {
	h := NewHarness(repo.NewMemoryStore(), nil, Options{})
	t.Cleanup(h.Close)
	runTVFlow(t, h)
}

func TestTVFlowPostgres(t *testing.T) {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		t.Skip("DATABASE_URL not set; skipping E2E test")
	}

	database, err := OpenPostgres(context.Background(), databaseURL)
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	t.Cleanup(func() { database.Close() })

	h := NewHarness(repo.NewPostgresStore(database), database, Options{})
	t.Cleanup(h.Close)
	runTVFlow(t, h)
}

func TestRegisterRateLimit(t *testing.T) {
	h := NewHarness(repo.NewMemoryStore(), nil, Options{RegisterPerMinute: 1, RegisterBurst: 2})
	t.Cleanup(h.Close)
	c := newClient(t, h)

	var reg registerResponse
	assert.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/register", nil, nil, &reg))
	assert.Equal(t, http.StatusOK, c.do(http.MethodPost, "/tv/register", nil, nil, &reg))

	var e errorResponse
	assert.Equal(t, http.StatusTooManyRequests, c.do(http.MethodPost, "/tv/register", nil, nil, &e),
		"third register from the same address within the window must return 429")
	assert.NotEmpty(t, e.Detail)
}

func TestMetricsEndpoint(t *testing.T) {
	h := NewHarness(repo.NewMemoryStore(), nil, Options{})
	t.Cleanup(h.Close)

	resp, err := h.Server.Client().Get(h.BaseURL() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "tvlink_devices_registered_total")
}
