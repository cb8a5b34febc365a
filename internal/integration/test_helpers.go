package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"liveroom/internal/app"
	"liveroom/internal/config"
	"liveroom/internal/engine"
	"liveroom/internal/pacer"
	"liveroom/internal/poller"
	"liveroom/internal/remote"
	"liveroom/pkg/interfaces"
	"liveroom/pkg/types"
)

// StartServer runs a full application on a free port over a fresh database
// and returns its base URL.
func StartServer(t *testing.T) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "liveroom.db")
	cfg.HTTP.Host = "127.0.0.1"
	cfg.HTTP.Port = 0

	application, err := app.NewApplication(cfg, nil)
	if err != nil {
		t.Fatalf("Failed to create application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start application: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := application.Stop(ctx); err != nil {
			t.Logf("Application shutdown error: %v", err)
		}
	})
	return "http://" + application.Addr()
}

// Participant is one user's engine talking to the server through a remote client.
type Participant struct {
	User   *types.User
	Client *remote.Client
	Engine *engine.Engine
}

// fastSync polls every 50ms so tests observe changes quickly.
func fastSync() engine.Config {
	return engine.Config{
		Sync: poller.Config{
			ActiveInterval: 50 * time.Millisecond,
			IdleInterval:   50 * time.Millisecond,
			HiddenInterval: 50 * time.Millisecond,
			ActivityWindow: 30 * time.Second,
			PageSize:       50,
			FetchTimeout:   5 * time.Second,
		},
		Display:      pacer.Config{ChunkSize: 3, FrameInterval: time.Millisecond},
		SendDebounce: 500 * time.Millisecond,
	}
}

// slowSync never polls on its own within a test's lifetime.
func slowSync() engine.Config {
	cfg := fastSync()
	cfg.Sync.ActiveInterval = time.Hour
	cfg.Sync.IdleInterval = time.Hour
	cfg.Sync.HiddenInterval = time.Hour
	return cfg
}

// Join builds a participant without starting its engine.
func Join(t *testing.T, baseURL, room string, user *types.User, cfg engine.Config) *Participant {
	t.Helper()
	client, err := remote.New(baseURL, room, user.ID)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return &Participant{
		User:   user,
		Client: client,
		Engine: engine.New(client, interfaces.StaticIdentity(user), engine.WithConfig(cfg)),
	}
}

// Start runs the engine until the test ends.
func (p *Participant) Start(t *testing.T) {
	t.Helper()
	if err := p.Engine.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start engine for %s: %v", p.User.ID, err)
	}
	t.Cleanup(func() { _ = p.Engine.Stop() })
}

// Sync runs one poll cycle and fails the test on error.
func (p *Participant) Sync(t *testing.T) *types.Snapshot {
	t.Helper()
	if err := p.Engine.Sync(context.Background()); err != nil {
		t.Fatalf("Sync for %s failed: %v", p.User.ID, err)
	}
	return p.Engine.Snapshot()
}

func student(id, name string) *types.User {
	return &types.User{ID: id, DisplayName: name, Role: types.RoleStudent}
}

func teacher(id, name string) *types.User {
	return &types.User{ID: id, DisplayName: name, Role: types.RoleTeacher}
}
