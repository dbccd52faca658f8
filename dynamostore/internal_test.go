package dynamostore

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/store"
)

// --- Config ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.MaxTransactItems != 100 {
		t.Errorf("expected MaxTransactItems 100, got %d", cfg.MaxTransactItems)
	}
	if cfg.ScanSegments != 1 {
		t.Errorf("expected ScanSegments 1, got %d", cfg.ScanSegments)
	}
	if !cfg.ConsistentReads {
		t.Error("expected ConsistentReads to default to true")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name         string
		in           Config
		wantItems    int
		wantSegments int
	}{
		{"zero values", Config{}, 100, 1},
		{"negative", Config{MaxTransactItems: -1, ScanSegments: -1}, 100, 1},
		{"over max", Config{MaxTransactItems: 500, ScanSegments: 1000}, 100, 256},
		{"at max", Config{MaxTransactItems: 100, ScanSegments: 256}, 100, 256},
		{"custom", Config{MaxTransactItems: 25, ScanSegments: 8}, 25, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.in
			cfg.validate()
			if cfg.MaxTransactItems != tt.wantItems {
				t.Errorf("MaxTransactItems = %d, want %d", cfg.MaxTransactItems, tt.wantItems)
			}
			if cfg.ScanSegments != tt.wantSegments {
				t.Errorf("ScanSegments = %d, want %d", cfg.ScanSegments, tt.wantSegments)
			}
		})
	}
}

// --- TTL ---

func TestIsExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		item     map[string]types.AttributeValue
		expected bool
	}{
		{"no TTL attribute", map[string]types.AttributeValue{}, false},
		{"nil item", nil, false},
		{"TTL in past", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "1000000000"}}, true},
		{"TTL in future", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix()+3600)}}, false},
		{"TTL is now", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: fmt.Sprintf("%d", now.Unix())}}, true},
		{"zero TTL", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "0"}}, true},
		{"wrong type", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberS{Value: "not-a-number"}}, false},
		{"unparseable", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "invalid"}}, false},
		{"year 3000", map[string]types.AttributeValue{"ttl": &types.AttributeValueMemberN{Value: "32503680000"}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.item, now); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestLiveFilter(t *testing.T) {
	if liveFilterExpr != "attribute_not_exists(#ttl) OR #ttl > :now" {
		t.Errorf("unexpected filter %q", liveFilterExpr)
	}
	if liveFilterNames()["#ttl"] != "ttl" {
		t.Error("expected #ttl to map to ttl")
	}
	now := time.Unix(1700000000, 0)
	v, ok := liveFilterValues(now)[":now"].(*types.AttributeValueMemberN)
	if !ok || v.Value != "1700000000" {
		t.Errorf("unexpected :now value %v", v)
	}
}

// --- Records ---

func TestEncodeDecodeItem(t *testing.T) {
	id := store.NewID()
	parent := store.NewID()
	at := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	doc := store.Document{
		store.IDField: id,
		"name":        "leaf",
		"parent":      parent,
		"created_at":  at,
		"tags":        []any{"a", "b"},
		"meta":        store.Document{"depth": 2},
	}

	raw, err := encodeItem(doc, 3)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if v, ok := raw["id"].(*types.AttributeValueMemberS); !ok || v.Value != id.Hex() {
		t.Errorf("expected id attribute %q, got %v", id.Hex(), raw["id"])
	}
	if v, ok := raw["version"].(*types.AttributeValueMemberN); !ok || v.Value != "3" {
		t.Errorf("expected version 3, got %v", raw["version"])
	}
	if _, ok := raw["ttl"]; ok {
		t.Error("expected no ttl attribute on a fresh item")
	}

	rec, err := decodeItem(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.id != id || rec.version != 3 {
		t.Errorf("unexpected record header %v/%d", rec.id, rec.version)
	}
	if rec.doc["parent"] != parent {
		t.Errorf("expected parent %v, got %v", parent, rec.doc["parent"])
	}
	if got, ok := rec.doc["created_at"].(time.Time); !ok || !got.Equal(at) {
		t.Errorf("expected created_at %v, got %v", at, rec.doc["created_at"])
	}
	meta, ok := rec.doc["meta"].(store.Document)
	if !ok {
		t.Fatalf("expected nested store.Document, got %T", rec.doc["meta"])
	}
	if !store.Eq("depth", 2).Match(meta) {
		t.Errorf("expected depth 2, got %v", meta["depth"])
	}
	tags, ok := rec.doc["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Errorf("expected two tags, got %v", rec.doc["tags"])
	}
}

func TestEncodeItem_WithoutID(t *testing.T) {
	_, err := encodeItem(store.Document{"name": "x"}, 1)
	if !errors.Is(err, store.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

func TestDecodeItem_BadID(t *testing.T) {
	raw := map[string]types.AttributeValue{
		"id":      &types.AttributeValueMemberS{Value: "nope"},
		"doc":     &types.AttributeValueMemberB{Value: nil},
		"version": &types.AttributeValueMemberN{Value: "1"},
	}
	if _, err := decodeItem(raw); !errors.Is(err, store.ErrInvalidID) {
		t.Errorf("expected ErrInvalidID, got %v", err)
	}
}

// --- mapTransactionError Tests ---

func TestMapTransactionError_NilError(t *testing.T) {
	if err := mapTransactionError(nil, nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestMapTransactionError_NonTransactionError(t *testing.T) {
	originalErr := errors.New("some other error")
	if err := mapTransactionError(originalErr, nil); err != originalErr {
		t.Errorf("expected original error, got %v", err)
	}
}

func TestMapTransactionError_InsertFailure(t *testing.T) {
	code := "ConditionalCheckFailed"
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{},            // Index 0 - update
			{Code: &code}, // Index 1 - insert
		},
	}

	err := mapTransactionError(txErr, []bool{false, true})
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestMapTransactionError_VersionFailure(t *testing.T) {
	code := "ConditionalCheckFailed"
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: &code}, // Index 0 - update
			{},            // Index 1 - insert
		},
	}

	err := mapTransactionError(txErr, []bool{false, true})
	if !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestMapTransactionError_TransactionConflict(t *testing.T) {
	code := "TransactionConflict"
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: &code}},
	}

	if err := mapTransactionError(txErr, []bool{false}); !errors.Is(err, store.ErrConcurrentModification) {
		t.Errorf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestMapTransactionError_NilCode(t *testing.T) {
	txErr := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: nil}},
	}

	// Should return original error when code is nil
	if err := mapTransactionError(txErr, []bool{false}); err != txErr {
		t.Errorf("expected original error for nil code, got %v", err)
	}
}

// --- Tables ---

func TestStore_TableNames(t *testing.T) {
	s := New(nil, Config{TablePrefix: "lattice_"})

	if got := s.Table("nodes"); got != "lattice_nodes" {
		t.Errorf("expected lattice_nodes, got %q", got)
	}
	if c, ok := s.CollectionOf("lattice_nodes"); !ok || c != "nodes" {
		t.Errorf("expected nodes, got %q (%v)", c, ok)
	}
	if _, ok := s.CollectionOf("other_nodes"); ok {
		t.Error("expected table without prefix to be rejected")
	}
}
