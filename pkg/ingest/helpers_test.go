package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Sternrassler/adfetch/pkg/backoff"
	"github.com/Sternrassler/adfetch/pkg/blob"
	"github.com/Sternrassler/adfetch/pkg/client"
	"github.com/Sternrassler/adfetch/pkg/fetchstate"
	"github.com/rs/zerolog"
)

func fastPolicy() backoff.Policy {
	return backoff.Policy{
		MaxAttempts:     3,
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
	}
}

func newVendorClient(t *testing.T, baseURL string) *client.Client {
	t.Helper()

	cfg := client.DefaultConfig("mock", baseURL)
	cfg.Retry = fastPolicy()
	c, err := client.New(cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("client.New() error = %v", err)
	}
	return c
}

func newState(t *testing.T, mem *blob.MemoryStore) *fetchstate.Store {
	t.Helper()

	s, err := fetchstate.NewStore(fetchstate.Config{
		Snapshots: mem.Open(blob.StatePath("mock", "snapshots.json")),
		Vault:     mem.Open(blob.StatePath("mock", "idvault.json")),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("fetchstate.NewStore() error = %v", err)
	}
	return s
}

func testItem(id, account string) *Item {
	return &Item{ItemID: id, Account: account, Date: "2026-10-18"}
}

func readTestManifest(t *testing.T, mem *blob.MemoryStore, item WorkItem, name string) *Manifest {
	t.Helper()

	data, ok := mem.Bytes(manifestPath(item, name))
	if !ok {
		return nil
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("manifest unparsable: %v", err)
	}
	return &m
}

func runItems(t *testing.T, o *Orchestrator, items ...*Item) error {
	t.Helper()

	work := make([]WorkItem, len(items))
	for i, it := range items {
		work[i] = it
	}
	return o.Run(context.Background(), work)
}
