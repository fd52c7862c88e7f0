package tests

import (
	"context"
	"database/sql"
	"net/http/httptest"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tvlink/server/internal/access"
	"github.com/tvlink/server/internal/auth"
	"github.com/tvlink/server/internal/db"
	"github.com/tvlink/server/internal/dispatch"
	httphandler "github.com/tvlink/server/internal/http"
	"github.com/tvlink/server/internal/http/handlers"
	"github.com/tvlink/server/internal/middleware"
	"github.com/tvlink/server/internal/pairing"
	"github.com/tvlink/server/internal/repo"
)

// UserAuthSecret signs the user identities used by the harness.
const UserAuthSecret = "test-user-auth-secret"

// PushCall is one message handed to the RecordingGateway.
type PushCall struct {
	Address string
	Data    map[string]string
}

// RecordingGateway stands in for FCM: it records every send and can fail or
// run a hook (a simulated device) per message.
type RecordingGateway struct {
	mu     sync.Mutex
	calls  []PushCall
	fail   error
	onSend func(PushCall)
}

func (g *RecordingGateway) Send(_ context.Context, address string, data map[string]string) error {
	g.mu.Lock()
	call := PushCall{Address: address, Data: data}
	g.calls = append(g.calls, call)
	fail, hook := g.fail, g.onSend
	g.mu.Unlock()

	if fail != nil {
		return fail
	}
	if hook != nil {
		hook(call)
	}
	return nil
}

func (g *RecordingGateway) SetFail(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fail = err
}

func (g *RecordingGateway) SetOnSend(hook func(PushCall)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.onSend = hook
}

func (g *RecordingGateway) Calls() []PushCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]PushCall(nil), g.calls...)
}

// Options tunes the harness; zero values pick fast test defaults.
type Options struct {
	AckWait           time.Duration
	RegisterPerMinute int
	RegisterBurst     int
}

// Harness is the full HTTP surface over a given store, served by httptest.
type Harness struct {
	Server   *httptest.Server
	Gateway  *RecordingGateway
	Verifier *auth.JWTVerifier
	Store    repo.Store
}

// NewHarness wires services, handlers and router the same way cmd/api does.
func NewHarness(store repo.Store, database *sql.DB, opts Options) *Harness {
	if opts.AckWait == 0 {
		opts.AckWait = 300 * time.Millisecond
	}
	if opts.RegisterPerMinute == 0 {
		opts.RegisterPerMinute = 600
		opts.RegisterBurst = 100
	}

	logger := zap.NewNop()
	gateway := &RecordingGateway{}
	verifier := auth.NewJWTVerifier(UserAuthSecret)

	pairingService := pairing.NewService(store.Pairing, pairing.DefaultTTL, logger)
	deviceService := auth.NewDeviceService(store.Devices, pairingService, logger)
	accessService := access.NewService(store.Devices, store.Links, logger)
	dispatcher := dispatch.NewDispatcher(store.Devices, accessService, gateway, dispatch.NewMemoryTable(time.Minute), dispatch.Options{
		AckWait:      opts.AckWait,
		PollInterval: 20 * time.Millisecond,
	}, logger)

	health := handlers.NewHealthHandler(nil)
	if database != nil {
		health = handlers.NewHealthHandler(database)
	}

	router := httphandler.NewRouter(httphandler.RouterDeps{
		Devices:       handlers.NewDeviceHandler(deviceService, accessService, dispatcher, logger),
		Users:         handlers.NewUserHandler(pairingService, accessService, dispatcher, logger),
		Health:        health,
		DeviceAuth:    deviceService,
		UserVerifier:  verifier,
		RegisterLimit: middleware.NewRateLimiter(opts.RegisterPerMinute, opts.RegisterBurst),
		PairLimit:     middleware.NewRateLimiter(600, 100),
		Logger:        logger,
	})

	return &Harness{
		Server:   httptest.NewServer(router),
		Gateway:  gateway,
		Verifier: verifier,
		Store:    store,
	}
}

func (h *Harness) BaseURL() string { return h.Server.URL }

func (h *Harness) Close() { h.Server.Close() }

// OpenPostgres opens DATABASE_URL, migrates it and empties every table.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	database, err := db.Open(ctx, databaseURL, zap.NewNop())
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(database); err != nil {
		database.Close()
		return nil, err
	}
	if err := db.Truncate(database); err != nil {
		database.Close()
		return nil, err
	}
	return database, nil
}
