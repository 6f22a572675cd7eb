package backend

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap/zaptest"

	"imgbatch/internal/counter"
	"imgbatch/worker/repository"
)

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"": KindLocal, "Redis": KindRedis, " remote ": KindRemote, "none": KindNone} {
		got, err := ParseKind(in)
		if err != nil || got != want {
			t.Errorf("ParseKind(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseKind("etcd"); err == nil {
		t.Error("Expected unknown backend to fail")
	}
}

func TestOpen_Local(t *testing.T) {
	logger := zaptest.NewLogger(t)
	repo, err := repository.Open(context.Background(), filepath.Join(t.TempDir(), "c.db"), logger)
	if err != nil {
		t.Fatalf("Open repo failed: %v", err)
	}
	defer repo.Close()

	b, err := Open(context.Background(), Config{Kind: KindLocal, Repo: repo}, logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer b.Close()

	c, err := b.Increment(context.Background(), 2, 50)
	if err != nil || c.TotalFiles != 2 {
		t.Errorf("Unexpected increment result %+v, %v", c, err)
	}
	if _, ok := b.Subscriber(); ok {
		t.Error("Local backend should not support subscriptions")
	}
}

func TestOpen_RemoteRequiresURL(t *testing.T) {
	if _, err := Open(context.Background(), Config{Kind: KindRemote}, zaptest.NewLogger(t)); err == nil {
		t.Error("Expected remote backend without url to fail")
	}

	b, err := Open(context.Background(), Config{Kind: KindRemote, URL: "http://localhost:1"}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := b.Subscriber(); !ok {
		t.Error("Remote backend should support subscriptions")
	}
}

func TestOpen_None(t *testing.T) {
	b, err := Open(context.Background(), Config{Kind: KindNone}, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if _, ok := b.Counter.(counter.Noop); !ok {
		t.Errorf("Expected Noop counter, got %T", b.Counter)
	}
}
