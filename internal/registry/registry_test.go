package registry

import (
	"context"
	"testing"

	"github.com/wormhole-dev/wormhole/internal/driver"
	"github.com/wormhole-dev/wormhole/internal/hub"
	"github.com/wormhole-dev/wormhole/internal/permission"
)

func newTestRegistry() *Registry {
	return New(Config{
		Broker:        permission.New(),
		Hub:           hub.New(0, nil, nil),
		RingCapacity:  1000,
		ServerVersion: "0.1.0",
		MachineName:   "test-host",
		NewDriver: func(name, directory string) (driver.Driver, error) {
			return driver.NewFakeDriver(), nil
		},
	})
}

func TestOpenAssignsAutoGeneratedName(t *testing.T) {
	r := newTestRegistry()
	s, err := r.Open(context.Background(), "", "/tmp/my-project", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if s.Name() == "" {
		t.Fatal("expected non-empty auto-generated name")
	}
	if got, want := s.Name()[:len("my-project-")], "my-project-"; got != want {
		t.Fatalf("unexpected generated name: %s", s.Name())
	}
}

func TestOpenRejectsDuplicateDirectory(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Open(context.Background(), "s1", "/tmp/p", nil); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := r.Open(context.Background(), "s2", "/tmp/p", nil); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("expected exactly one session to remain open, got %d", r.Count())
	}
}

func TestOpenRejectsDuplicateName(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Open(context.Background(), "s1", "/tmp/a", nil); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := r.Open(context.Background(), "s1", "/tmp/b", nil); err != ErrSessionExists {
		t.Fatalf("expected ErrSessionExists, got %v", err)
	}
}

func TestRegistryByNameAndByDirectoryStayConsistent(t *testing.T) {
	r := newTestRegistry()
	s, err := r.Open(context.Background(), "s1", "/tmp/p", nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	byName, ok := r.Get("s1")
	if !ok || byName != s {
		t.Fatalf("expected Get to return the opened session")
	}

	if err := r.Close("s1"); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, ok := r.Get("s1"); ok {
		t.Fatal("expected session to be gone after close")
	}

	// The directory must be free again; re-opening there should
	// succeed now that the name/directory pair was fully removed.
	if _, err := r.Open(context.Background(), "s2", "/tmp/p", nil); err != nil {
		t.Fatalf("reopen after close: %v", err)
	}
}

func TestCloseUnknownSessionReturnsNotFound(t *testing.T) {
	r := newTestRegistry()
	if err := r.Close("does-not-exist"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListSnapshotsAllSessions(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Open(context.Background(), "s1", "/tmp/a", nil); err != nil {
		t.Fatalf("open s1: %v", err)
	}
	if _, err := r.Open(context.Background(), "s2", "/tmp/b", nil); err != nil {
		t.Fatalf("open s2: %v", err)
	}

	snaps := r.List()
	if len(snaps) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(snaps))
	}
}

func TestCloseAllTearsDownEverySession(t *testing.T) {
	r := newTestRegistry()
	if _, err := r.Open(context.Background(), "s1", "/tmp/a", nil); err != nil {
		t.Fatalf("open: %v", err)
	}
	r.CloseAll()
	if r.Count() != 0 {
		t.Fatalf("expected 0 sessions after CloseAll, got %d", r.Count())
	}
}
