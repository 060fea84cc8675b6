package kv

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/interfaces"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := NewStore(arbor.NewLogger(), &common.KVConfig{
		Path: filepath.Join(t.TempDir(), "kv"),
	})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return store
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), "no_such_key")
	if !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Fatalf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestSetAndGetAreCaseInsensitive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "Gemini_API_Key", "key-123", "test key"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	for _, key := range []string{"gemini_api_key", "GEMINI_API_KEY", "  Gemini_Api_Key  "} {
		value, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get(%q): %v", key, err)
		}
		if value != "key-123" {
			t.Errorf("Get(%q) = %q, want key-123", key, value)
		}
	}
}

func TestUpsertPreservesCreatedAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	isNew, err := store.Upsert(ctx, "proxy_vendor", "vendor-a", "")
	if err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if !isNew {
		t.Error("first Upsert should report a new key")
	}

	first := findPair(t, store, "proxy_vendor")

	time.Sleep(2 * time.Millisecond)

	isNew, err = store.Upsert(ctx, "PROXY_VENDOR", "vendor-b", "switched")
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if isNew {
		t.Error("second Upsert should report an existing key")
	}

	second := findPair(t, store, "proxy_vendor")
	if second.Value != "vendor-b" {
		t.Errorf("value = %q, want vendor-b", second.Value)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed on update: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt did not advance: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestDeleteRemovesKey(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "doomed", "value", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Delete(ctx, "DOOMED"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := store.Get(ctx, "doomed"); !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Errorf("Get after delete: expected ErrKeyNotFound, got %v", err)
	}
	if err := store.Delete(ctx, "doomed"); !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Errorf("Delete of missing key: expected ErrKeyNotFound, got %v", err)
	}
}

func TestListOrdersByMostRecentUpdate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{"alpha", "beta", "gamma"} {
		if err := store.Set(ctx, key, "v", ""); err != nil {
			t.Fatalf("Set(%q): %v", key, err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	// Touching alpha again moves it to the front of the list.
	if err := store.Set(ctx, "alpha", "v2", ""); err != nil {
		t.Fatalf("re-Set alpha: %v", err)
	}

	pairs, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(pairs) != 3 {
		t.Fatalf("List returned %d pairs, want 3", len(pairs))
	}
	if pairs[0].Key != "alpha" {
		t.Errorf("most recently updated key = %q, want alpha", pairs[0].Key)
	}
}

func TestGetAllReturnsNormalizedKeys(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.Set(ctx, "Scrape_Base_URL", "https://www.avito.ru", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "USER_AGENT", "colligo/1.0", ""); err != nil {
		t.Fatalf("Set: %v", err)
	}

	all, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("GetAll returned %d entries, want 2", len(all))
	}
	if all["scrape_base_url"] != "https://www.avito.ru" {
		t.Errorf("scrape_base_url = %q", all["scrape_base_url"])
	}
	if all["user_agent"] != "colligo/1.0" {
		t.Errorf("user_agent = %q", all["user_agent"])
	}
}

func TestLoadVariablesFromFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	dir := t.TempDir()
	mainFile := `[scrape_base_url]
value = "https://www.avito.ru"
description = "Marketplace root"

[empty_slot]
value = ""
`
	if err := os.WriteFile(filepath.Join(dir, "variables.toml"), []byte(mainFile), 0644); err != nil {
		t.Fatalf("write variables.toml: %v", err)
	}

	subDir := filepath.Join(dir, "variables")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatalf("mkdir variables/: %v", err)
	}
	extraFile := `[user_agent_pool]
value = "pool-a"
`
	if err := os.WriteFile(filepath.Join(subDir, "extra.toml"), []byte(extraFile), 0644); err != nil {
		t.Fatalf("write extra.toml: %v", err)
	}
	if err := os.WriteFile(filepath.Join(subDir, "notes.txt"), []byte("ignored"), 0644); err != nil {
		t.Fatalf("write notes.txt: %v", err)
	}

	if err := store.LoadVariablesFromFiles(ctx, dir); err != nil {
		t.Fatalf("LoadVariablesFromFiles: %v", err)
	}

	value, err := store.Get(ctx, "scrape_base_url")
	if err != nil {
		t.Fatalf("Get scrape_base_url: %v", err)
	}
	if value != "https://www.avito.ru" {
		t.Errorf("scrape_base_url = %q", value)
	}

	if _, err := store.Get(ctx, "empty_slot"); !errors.Is(err, interfaces.ErrKeyNotFound) {
		t.Errorf("empty values must be skipped, Get returned %v", err)
	}

	value, err = store.Get(ctx, "user_agent_pool")
	if err != nil {
		t.Fatalf("Get user_agent_pool: %v", err)
	}
	if value != "pool-a" {
		t.Errorf("user_agent_pool = %q", value)
	}

	pair := findPair(t, store, "user_agent_pool")
	if pair.Description != "Loaded from extra.toml" {
		t.Errorf("description = %q, want fallback from file name", pair.Description)
	}
}

func TestLoadVariablesMissingDirIsNoOp(t *testing.T) {
	store := newTestStore(t)

	if err := store.LoadVariablesFromFiles(context.Background(), filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("LoadVariablesFromFiles on missing dir: %v", err)
	}
}

func findPair(t *testing.T, store *Store, key string) interfaces.KeyValuePair {
	t.Helper()

	pairs, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, pair := range pairs {
		if pair.Key == key {
			return pair
		}
	}
	t.Fatalf("key %q not found in store", key)
	return interfaces.KeyValuePair{}
}
