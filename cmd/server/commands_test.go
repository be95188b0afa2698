package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/parcelchat-server/internal/app"
	"github.com/vovakirdan/parcelchat-server/internal/auth"
	"github.com/vovakirdan/parcelchat-server/internal/config"
	"github.com/vovakirdan/parcelchat-server/internal/store"
)

func run(t *testing.T, configPath string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", configPath, "--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return strings.TrimSpace(out.String()), err
}

func TestAdminWorkflow(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "parcelchat.db")
	t.Setenv("PARCELCHAT_DATABASE_PATH", dbPath)
	t.Setenv("PARCELCHAT_JWT_SECRET", "cli-secret")

	if out, err := run(t, configPath, "migrate"); err != nil || out != "schema applied" {
		t.Fatalf("migrate: %q %v", out, err)
	}

	adminID, err := run(t, configPath, "user", "add", "--email", "ops@example.com", "--password", "password123", "--name", "Ops", "--role", "admin")
	if err != nil || adminID == "" {
		t.Fatalf("user add admin: %q %v", adminID, err)
	}
	clientID, err := run(t, configPath, "user", "add", "--email", "shop@example.com", "--password", "password123")
	if err != nil || clientID == "" {
		t.Fatalf("user add client: %q %v", clientID, err)
	}

	if _, err := run(t, configPath, "user", "add", "--email", "ops@example.com", "--password", "password123"); err == nil {
		t.Fatal("duplicate email should fail")
	}
	if _, err := run(t, configPath, "conversation", "add", "--admin", "shop@example.com", "--client", "ops@example.com"); err == nil {
		t.Fatal("swapped roles should fail")
	}

	convID, err := run(t, configPath, "conversation", "add", "--admin", "ops@example.com", "--client", "shop@example.com")
	if err != nil || convID == "" {
		t.Fatalf("conversation add: %q %v", convID, err)
	}

	token, err := run(t, configPath, "token", "--email", "shop@example.com")
	if err != nil || token == "" {
		t.Fatalf("token: %q %v", token, err)
	}

	cfg, _, err := config.Load(nil, configPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DatabasePath != dbPath {
		t.Fatalf("env override not applied: %s", cfg.DatabasePath)
	}

	ctx := context.Background()
	st, err := app.OpenStore(ctx, &cfg, nopLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	identity, err := auth.NewService(st, app.JWTConfig(&cfg)).Authenticate(ctx, auth.Credentials{Token: token})
	if err != nil {
		t.Fatalf("issued token does not authenticate: %v", err)
	}
	if identity.UserID != clientID || identity.Role != store.RoleClient {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	conv, err := st.GetConversation(ctx, convID)
	if err != nil {
		t.Fatalf("get conversation: %v", err)
	}
	if conv.AdminID != adminID || conv.ClientID != clientID {
		t.Fatalf("unexpected conversation: %+v", conv)
	}
}

func TestUserAddRequiresFlags(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("PARCELCHAT_DATABASE_PATH", filepath.Join(t.TempDir(), "parcelchat.db"))

	if _, err := run(t, configPath, "user", "add", "--email", "x@example.com"); err == nil {
		t.Fatal("missing --password should fail")
	}
}

func nopLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
