package main

import (
	"testing"

	"github.com/covm/covm/core"
	"github.com/covm/covm/internal/testutil"
)

func TestNewStorageFileBackendRoundTripsInSandbox(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox failed: %v", err)
	}
	defer sb.Cleanup()

	sink := core.NewRingBuffer(64)
	storage, serr := newStorage(sb.Root, sink)
	if serr != nil {
		t.Fatalf("newStorage failed: %v", serr)
	}
	auth := bootstrapAuth("cli", "admin")

	if verr := storage.CreateNamespace(auth, "app", 1<<20, ""); verr != nil {
		t.Fatalf("create namespace failed: %v", verr)
	}
	if verr := storage.Set(auth, "app", "k", []byte("hello")); verr != nil {
		t.Fatalf("set failed: %v", verr)
	}
	data, verr := storage.Get(auth, "app", "k")
	if verr != nil {
		t.Fatalf("get failed: %v", verr)
	}
	if string(data) != "hello" {
		t.Fatalf("expected 'hello', got %q", data)
	}
}

func TestNewStorageMemoryBackendWhenDirEmpty(t *testing.T) {
	storage, err := newStorage("", core.NewRingBuffer(8))
	if err != nil {
		t.Fatalf("newStorage failed: %v", err)
	}
	if _, ok := storage.(*core.MemoryStorage); !ok {
		t.Fatalf("expected an in-memory backend when no storage dir is given, got %T", storage)
	}
}

func TestBootstrapAuthGrantsRequestedRole(t *testing.T) {
	auth := bootstrapAuth("cli", "writer")
	if !auth.HasRole(core.DefaultNamespace, "writer") {
		t.Fatalf("expected bootstrapAuth to grant the requested role")
	}
	if auth.HasRole(core.DefaultNamespace, "admin") {
		t.Fatalf("expected bootstrapAuth not to grant an unrequested role")
	}
}
