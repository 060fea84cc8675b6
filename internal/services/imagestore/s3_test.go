package imagestore

import (
	"context"
	"errors"
	"testing"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/common"
)

func TestNewS3StoreWithoutEndpointIsDisabled(t *testing.T) {
	cfg := common.NewDefaultConfig().Images

	store, err := NewS3Store(&cfg, arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	if store.Enabled() {
		t.Fatal("store with empty endpoint reports enabled")
	}

	if _, err := store.Store(context.Background(), "k", []byte("x"), "image/jpeg"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Store error = %v, want ErrNotConfigured", err)
	}
	if _, err := store.Fetch(context.Background(), "k"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Fetch error = %v, want ErrNotConfigured", err)
	}
	if err := store.EnsureBucket(context.Background()); err != nil {
		t.Fatalf("EnsureBucket on disabled store: %v", err)
	}
}

func TestNewS3StoreWithEndpointIsEnabled(t *testing.T) {
	cfg := common.NewDefaultConfig().Images
	cfg.S3Endpoint = "http://127.0.0.1:9000"
	cfg.S3AccessKey = "minioadmin"
	cfg.S3SecretKey = "secret"

	store, err := NewS3Store(&cfg, arbor.NewLogger())
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	if !store.Enabled() {
		t.Fatal("configured store reports disabled")
	}
}
