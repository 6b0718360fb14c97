package manifest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/beenet-labs/graphlake/internal/chunkid"
	"github.com/beenet-labs/graphlake/internal/graphcol"
	"github.com/beenet-labs/graphlake/internal/model"
	"github.com/beenet-labs/graphlake/internal/store"
	"github.com/beenet-labs/graphlake/internal/ulid"
	"github.com/beenet-labs/graphlake/internal/writer"
)

func encodeChunk(t *testing.T, namespace string, subjects []string) ([]byte, int) {
	t.Helper()
	gen := ulid.NewGenerator()
	id, err := gen.New(1_700_000_000_000)
	if err != nil {
		t.Fatalf("ulid generation failed: %v", err)
	}
	triples := make([]model.Triple, len(subjects))
	for i, s := range subjects {
		triples[i] = model.Triple{Subject: s, Predicate: "p", Object: model.NewString("v"), Timestamp: uint64(i + 1), TxID: id}
	}
	data, err := graphcol.Encode(namespace, triples)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return data, len(triples)
}

func TestBuildAggregatesStats(t *testing.T) {
	chunks := []writer.ChunkMeta{
		{Path: "a", TripleCount: 10, Bytes: 100, MinTime: 5, MaxTime: 50},
		{Path: "b", TripleCount: 20, Bytes: 200, MinTime: 1, MaxTime: 60},
	}
	m := Build("https://example.com/entities/", chunks, []byte("bloom"), 1234)
	if m.Stats.TotalTriples != 30 || m.Stats.TotalBytes != 300 {
		t.Errorf("got totalTriples=%d totalBytes=%d, want 30, 300", m.Stats.TotalTriples, m.Stats.TotalBytes)
	}
	if m.Stats.MinTime != 1 || m.Stats.MaxTime != 60 {
		t.Errorf("got minTime=%d maxTime=%d, want 1, 60", m.Stats.MinTime, m.Stats.MaxTime)
	}
	if m.Version != formatVersion {
		t.Errorf("Version = %d, want %d", m.Version, formatVersion)
	}
	if m.CreatedAt.IsZero() || m.UpdatedAt.IsZero() {
		t.Error("expected CreatedAt/UpdatedAt to be populated")
	}
	if m.CreatedAt.Location() != time.UTC {
		t.Error("expected CreatedAt to be normalized to UTC")
	}
}

func TestStatsRecomputesFromChunks(t *testing.T) {
	m := &Manifest{Chunks: []writer.ChunkMeta{
		{TripleCount: 3, Bytes: 30, MinTime: 2, MaxTime: 9},
	}}
	stats := ComputeStats(m)
	if stats.TotalTriples != 3 || stats.TotalBytes != 30 || stats.MinTime != 2 || stats.MaxTime != 9 {
		t.Errorf("got %+v, want {3 30 2 9}", stats)
	}
}

func TestManifestMarshalsStatsAsDecimalStrings(t *testing.T) {
	m := Build("https://example.com/entities/", []writer.ChunkMeta{
		{Path: "a", TripleCount: 1, Bytes: 100, MinTime: 5, MaxTime: 50},
	}, nil, 1_700_000_000_000)
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	stats, ok := raw["stats"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected a nested stats object, got %v", raw["stats"])
	}
	for _, field := range []string{"totalBytes", "minTime", "maxTime"} {
		if _, ok := stats[field].(string); !ok {
			t.Errorf("expected stats.%s to serialize as a JSON string, got %T: %v", field, stats[field], stats[field])
		}
	}
	chunks, ok := raw["chunks"].([]interface{})
	if !ok || len(chunks) != 1 {
		t.Fatalf("expected one chunk, got %v", raw["chunks"])
	}
	chunk := chunks[0].(map[string]interface{})
	if _, ok := chunk["minTime"].(string); !ok {
		t.Errorf("expected chunk.minTime to serialize as a JSON string, got %T", chunk["minTime"])
	}
	if _, ok := raw["createdAt"].(string); !ok {
		t.Errorf("expected createdAt to serialize as an ISO-8601 string, got %T", raw["createdAt"])
	}
}

func TestVerifyAcceptsConsistentManifest(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	objStore := store.NewMapObjectStore()

	data, count := encodeChunk(t, namespace, []string{namespace + "a", namespace + "b"})
	objStore.Put(ctx, "chunk1", data)

	m := Build(namespace, []writer.ChunkMeta{{Path: "chunk1", TripleCount: count, Bytes: len(data)}}, nil, 0)
	if err := Verify(ctx, m, objStore); err != nil {
		t.Fatalf("Verify failed on a consistent manifest: %v", err)
	}
}

func TestVerifyRejectsTripleCountMismatch(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	objStore := store.NewMapObjectStore()

	data, _ := encodeChunk(t, namespace, []string{namespace + "a"})
	objStore.Put(ctx, "chunk1", data)

	m := Build(namespace, []writer.ChunkMeta{{Path: "chunk1", TripleCount: 99, Bytes: len(data)}}, nil, 0)
	if err := Verify(ctx, m, objStore); err == nil {
		t.Fatal("expected Verify to reject a triple-count mismatch")
	}
}

func TestVerifyRejectsContentHashMismatch(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	objStore := store.NewMapObjectStore()

	data, count := encodeChunk(t, namespace, []string{namespace + "a"})
	objStore.Put(ctx, "chunk1", data)

	m := Build(namespace, []writer.ChunkMeta{{
		Path: "chunk1", TripleCount: count, Bytes: len(data),
		ContentHash: chunkid.Hash([]byte("not-the-real-frame")),
	}}, nil, 0)
	if err := Verify(ctx, m, objStore); err == nil {
		t.Fatal("expected Verify to reject a content-hash mismatch")
	}
}

func TestVerifyRejectsMissingChunk(t *testing.T) {
	ctx := context.Background()
	objStore := store.NewMapObjectStore()
	m := Build("https://example.com/entities/", []writer.ChunkMeta{{Path: "missing", TripleCount: 1}}, nil, 0)
	if err := Verify(ctx, m, objStore); err == nil {
		t.Fatal("expected Verify to reject a manifest referencing a missing chunk")
	}
}
