package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/wirerelay/internal/config"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/log"
	"github.com/vovakirdan/wirerelay/internal/metrics"
	"github.com/vovakirdan/wirerelay/internal/store"
	"github.com/vovakirdan/wirerelay/internal/store/sqlite"
)

type testEnv struct {
	ts      *httptest.Server
	store   *sqlite.SQLiteStore
	hub     *core.Hub
	metrics *metrics.Metrics
}

// createTestStore creates an in-memory SQLite store with the schema applied.
func createTestStore(t *testing.T) *sqlite.SQLiteStore {
	t.Helper()

	st, err := sqlite.NewWithSetup(":memory:", sqlite.Migrate)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st := createTestStore(t)
	logger := log.Nop()
	m := metrics.New()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second

	hub := core.NewHub(core.HubConfig{
		SendBuffer:       cfg.SendBuffer,
		MaxContentLength: cfg.MaxContentLength,
	}, core.NewStoreOracle(st, st), st, logger, m)

	server := NewServer(hub, st, &cfg, m, logger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, hub: hub, metrics: m}
}

func (e *testEnv) mustUser(t *testing.T, email, name string) *store.User {
	t.Helper()

	u, err := e.store.CreateUser(context.Background(), email, name, nil)
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return u
}

func (e *testEnv) dial(t *testing.T, ctx context.Context) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

// clientFrame is an outbound frame as a client decodes it.
type clientFrame struct {
	Type    string          `json:"type"`
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Payload json.RawMessage `json:"payload"`
}

func writeFrame(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string, payload any) {
	t.Helper()

	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	frame := map[string]any{"type": typ, "payload": json.RawMessage(raw)}
	if err := wsjson.Write(ctx, conn, frame); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) clientFrame {
	t.Helper()

	var f clientFrame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func identifyWS(t *testing.T, ctx context.Context, conn *websocket.Conn, userID string) {
	t.Helper()

	writeFrame(t, ctx, conn, "IDENTIFY", map[string]string{"userId": userID})
	if f := readFrame(t, ctx, conn); f.Type != "SUCCESS" {
		t.Fatalf("identify %s: got %+v", userID, f)
	}
}

// waitConnections polls until the registry holds want connections.
func (e *testEnv) waitConnections(t *testing.T, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if e.hub.Registry().Stats().Connections == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("registry connections = %d, want %d", e.hub.Registry().Stats().Connections, want)
}
