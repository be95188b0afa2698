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
	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/auth"
	"github.com/vovakirdan/parcelchat-server/internal/config"
	"github.com/vovakirdan/parcelchat-server/internal/core"
	"github.com/vovakirdan/parcelchat-server/internal/proto"
	"github.com/vovakirdan/parcelchat-server/internal/store"
	"github.com/vovakirdan/parcelchat-server/internal/store/sqlite"
)

const testPassword = "password123"

type testEnv struct {
	cfg      config.Config
	store    *sqlite.SQLiteStore
	auth     *auth.Service
	hub      *core.Hub
	ts       *httptest.Server
	admin    *store.User
	client   *store.User
	outsider *store.User
	conv     *store.Conversation
}

// newTestEnv starts a server backed by in-memory SQLite with one admin, one
// client sharing a conversation and one user outside of it.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.JWTSecret = "test-secret"
	cfg.ReadHeaderTimeout = time.Second
	if mutate != nil {
		mutate(&cfg)
	}

	st, err := sqlite.NewWithSetup(":memory:", sqlite.ApplySchema)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.TokenTTL,
	})

	disabledLogger := zerolog.New(nil).Level(zerolog.Disabled)
	hub := core.NewHub(st, core.NewMemoryMailbox(), core.Options{
		PersistTimeout: cfg.PersistTimeout,
		HistoryLimit:   cfg.HistoryLimit,
	}, &disabledLogger)

	server := NewServer(hub, authService, st, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	env := &testEnv{cfg: cfg, store: st, auth: authService, hub: hub, ts: ts}
	ctx := context.Background()
	env.admin = env.register(t, "Dispatch", "admin@example.com", store.RoleAdmin, store.UserStatusActive)
	env.client = env.register(t, "Courier", "client@example.com", store.RoleClient, store.UserStatusActive)
	env.outsider = env.register(t, "", "other@example.com", store.RoleClient, store.UserStatusActive)

	env.conv, err = st.CreateConversation(ctx, env.admin.ID, env.client.ID)
	if err != nil {
		t.Fatalf("failed to create conversation: %v", err)
	}
	return env
}

func (e *testEnv) register(t *testing.T, name, email string, role store.Role, status store.UserStatus) *store.User {
	t.Helper()
	u, err := e.auth.Register(context.Background(), auth.RegisterParams{
		Name:     name,
		Email:    email,
		Password: testPassword,
		Role:     role,
		Status:   status,
	})
	if err != nil {
		t.Fatalf("failed to register %s: %v", email, err)
	}
	return u
}

func (e *testEnv) token(t *testing.T, u *store.User) string {
	t.Helper()
	token, err := e.auth.IssueToken(u)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

func (e *testEnv) wsURL(token string) string {
	return strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws?token=" + token
}

// frame is an outbound message with the payload left raw.
type frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Ref   string          `json:"ref"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

// wsClient buffers frames so acks and events can be awaited in any order.
type wsClient struct {
	conn    *websocket.Conn
	pending []frame
	hello   proto.EventConnectionEstablished
}

// dial connects as u and consumes the connectionEstablished greeting.
func (e *testEnv) dial(t *testing.T, u *store.User) *wsClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, e.wsURL(e.token(t, u)), nil)
	if err != nil {
		t.Fatalf("dial %s: %v", u.Email, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	c := &wsClient{conn: conn}
	hello := c.expectEvent(t, core.EventConnectionEstablished.String())
	c.hello = decode[proto.EventConnectionEstablished](t, hello.Data)
	return c
}

func (c *wsClient) send(t *testing.T, typ, ref string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, proto.Inbound{Type: typ, Ref: ref, Data: raw}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func (c *wsClient) sendRaw(t *testing.T, payload string) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(payload)); err != nil {
		t.Fatalf("write raw: %v", err)
	}
}

// await returns the first buffered or incoming frame matching match.
func (c *wsClient) await(t *testing.T, what string, match func(frame) bool) frame {
	t.Helper()
	for i, f := range c.pending {
		if match(f) {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return f
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		var f frame
		if err := wsjson.Read(ctx, c.conn, &f); err != nil {
			t.Fatalf("waiting for %s: %v", what, err)
		}
		if match(f) {
			return f
		}
		c.pending = append(c.pending, f)
	}
}

func (c *wsClient) expectAck(t *testing.T, ref string) frame {
	t.Helper()
	return c.await(t, "ack "+ref, func(f frame) bool {
		return f.Type == proto.OutboundTypeAck && f.Ref == ref
	})
}

func (c *wsClient) expectEvent(t *testing.T, name string) frame {
	t.Helper()
	return c.await(t, "event "+name, func(f frame) bool {
		return f.Type == proto.OutboundTypeEvent && f.Event == name
	})
}

func (c *wsClient) expectError(t *testing.T) frame {
	t.Helper()
	return c.await(t, "protocol error", func(f frame) bool {
		return f.Type == proto.OutboundTypeError
	})
}

// join joins the conversation and returns the ack.
func (c *wsClient) join(t *testing.T, conversationID string) proto.JoinAck {
	t.Helper()
	ref := "join-" + conversationID
	c.send(t, proto.InboundTypeJoin, ref, proto.ConversationData{ConversationID: conversationID})
	ack := decode[proto.JoinAck](t, c.expectAck(t, ref).Data)
	if ack.Status != proto.StatusSuccess {
		t.Fatalf("join %s failed: %+v", conversationID, ack)
	}
	return ack
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return v
}
