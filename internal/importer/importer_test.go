package importer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"sort"
	"strings"
	"testing"

	"github.com/beenet-labs/graphlake/internal/checkpoint"
	"github.com/beenet-labs/graphlake/internal/fetch"
	"github.com/beenet-labs/graphlake/internal/graphcol"
	"github.com/beenet-labs/graphlake/internal/model"
	"github.com/beenet-labs/graphlake/internal/store"
	"github.com/beenet-labs/graphlake/internal/writer"
)

// scriptedDoer replays a fixed sequence of scripted responses regardless of
// the request (and fails once they run out), for exercising both the
// full-fetch and ranged-fetch paths without a live server.
type scriptedDoer struct {
	responses []scriptedResponse
	call      int
	requests  []*http.Request
}

type scriptedResponse struct {
	status int
	body   string
	header http.Header
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if d.call >= len(d.responses) {
		return nil, fmt.Errorf("scriptedDoer: no more responses scripted (call %d)", d.call)
	}
	r := d.responses[d.call]
	d.call++
	h := r.header
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: r.status, Header: h, Body: io.NopCloser(strings.NewReader(r.body))}, nil
}

func ndjsonTransform(record interface{}, txID string) ([]model.Triple, error) {
	rec, ok := record.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an NDJSON object")
	}
	subject, _ := rec["subject"].(string)
	predicate, _ := rec["predicate"].(string)
	value, _ := rec["value"].(string)
	return []model.Triple{{
		Subject: subject, Predicate: predicate, Object: model.NewString(value),
		Timestamp: 1_700_000_000_000, TxID: txID,
	}}, nil
}

func tsvTransform(record interface{}, txID string) ([]model.Triple, error) {
	cols, ok := record.([]string)
	if !ok || len(cols) < 3 {
		return nil, fmt.Errorf("expected at least 3 TSV columns")
	}
	return []model.Triple{{
		Subject: cols[0], Predicate: cols[1], Object: model.NewString(cols[2]),
		Timestamp: 1_700_000_000_000, TxID: txID,
	}}, nil
}

func sampleNDJSON(namespace string, n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		rec := map[string]interface{}{
			"subject":   fmt.Sprintf("%se%d", namespace, i),
			"predicate": "name",
			"value":     fmt.Sprintf("entity-%d", i),
		}
		data, _ := json.Marshal(rec)
		sb.Write(data)
		sb.WriteByte('\n')
	}
	return sb.String()
}

func TestRunFullNDJSONEndToEnd(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	body := sampleNDJSON(namespace, 5)

	doer := &scriptedDoer{responses: []scriptedResponse{{status: http.StatusOK, body: body}}}
	objStore := store.NewMapObjectStore()
	kv := store.NewMapKVStore()

	im := New(Config{
		SourceURL: "https://source.example.com/data.ndjson",
		Format:    FormatNDJSON,
		Namespace: namespace,
		Transform: ndjsonTransform,
	}, doer, objStore, kv)

	result, err := im.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.State != StateCompleted {
		t.Fatalf("State = %v, want completed", result.State)
	}
	if result.LinesProcessed != 5 || result.TriplesWritten != 5 {
		t.Errorf("got linesProcessed=%d triplesWritten=%d, want 5, 5", result.LinesProcessed, result.TriplesWritten)
	}
	if result.Manifest == nil || result.Manifest.Stats.TotalTriples != 5 {
		t.Fatalf("got manifest %+v, want TotalTriples=5", result.Manifest)
	}

	for _, c := range result.Chunks {
		data, err := objStore.Get(ctx, c.Path)
		if err != nil {
			t.Fatalf("chunk %s missing from object store: %v", c.Path, err)
		}
		triples, err := graphcol.Decode(data)
		if err != nil {
			t.Fatalf("chunk %s failed to decode: %v", c.Path, err)
		}
		if len(triples) != c.TripleCount {
			t.Errorf("chunk %s: decoded %d, meta says %d", c.Path, len(triples), c.TripleCount)
		}
	}

	if cp, err := im.cps.Load(ctx, im.jobID); err != nil || cp != nil {
		t.Errorf("expected checkpoint to be deleted on success, got %+v, err=%v", cp, err)
	}
}

func TestRunGzippedFullEndToEnd(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	body := sampleNDJSON(namespace, 4)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	gz.Write([]byte(body))
	gz.Close()

	doer := &scriptedDoer{responses: []scriptedResponse{{status: http.StatusOK, body: buf.String()}}}
	objStore := store.NewMapObjectStore()
	kv := store.NewMapKVStore()

	im := New(Config{
		SourceURL: "https://source.example.com/data.ndjson.gz",
		Format:    FormatNDJSON,
		Gzipped:   true,
		Namespace: namespace,
		Transform: ndjsonTransform,
	}, doer, objStore, kv)

	result, err := im.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.TriplesWritten != 4 {
		t.Errorf("TriplesWritten = %d, want 4", result.TriplesWritten)
	}
}

func TestRunRejectsGzippedRangeCombo(t *testing.T) {
	doer := &scriptedDoer{}
	im := New(Config{
		SourceURL:        "https://source.example.com/data.ndjson.gz",
		Gzipped:          true,
		UseRangeRequests: true,
		Namespace:        "https://example.com/entities/",
		Transform:        ndjsonTransform,
	}, doer, store.NewMapObjectStore(), store.NewMapKVStore())

	result, err := im.Run(context.Background())
	if err == nil {
		t.Fatal("expected Run to reject gzipped+ranged config")
	}
	if result.State != StateError {
		t.Errorf("State = %v, want error", result.State)
	}
	if len(doer.requests) != 0 {
		t.Errorf("expected no requests to be issued, got %d", len(doer.requests))
	}
}

func TestRunRangedTSVAcrossWindowBoundary(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	full := "https://example.com/entities/a\tname\tAlice\nhttps://example.com/entities/b\tname\tBob\n"

	// Split the body so a line straddles the window boundary.
	split := len(full) - 10
	w1, w2 := full[:split], full[split:]

	doer := &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusPartialContent, body: w1, header: http.Header{"Content-Range": []string{fmt.Sprintf("bytes 0-%d/%d", len(w1)-1, len(full))}}},
		{status: http.StatusPartialContent, body: w2, header: http.Header{"Content-Range": []string{fmt.Sprintf("bytes %d-%d/%d", split, len(full)-1, len(full))}}},
	}}
	objStore := store.NewMapObjectStore()
	kv := store.NewMapKVStore()

	im := New(Config{
		SourceURL:        "https://source.example.com/data.tsv",
		Format:           FormatTSV,
		UseRangeRequests: true,
		Namespace:        namespace,
		Transform:        tsvTransform,
	}, doer, objStore, kv)

	result, err := im.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.LinesProcessed != 2 || result.TriplesWritten != 2 {
		t.Errorf("got linesProcessed=%d triplesWritten=%d, want 2, 2", result.LinesProcessed, result.TriplesWritten)
	}
}

func TestRunSkipsUnparseableLinesButContinues(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	body := `{"subject":"https://example.com/entities/a","predicate":"name","value":"Alice"}
not valid json
{"subject":"https://example.com/entities/b","predicate":"name","value":"Bob"}
`
	doer := &scriptedDoer{responses: []scriptedResponse{{status: http.StatusOK, body: body}}}
	im := New(Config{
		SourceURL: "https://source.example.com/data.ndjson",
		Format:    FormatNDJSON,
		Namespace: namespace,
		Transform: ndjsonTransform,
	}, doer, store.NewMapObjectStore(), store.NewMapKVStore())

	result, err := im.Run(ctx)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.ParseErrors != 1 {
		t.Errorf("ParseErrors = %d, want 1", result.ParseErrors)
	}
	if result.TriplesWritten != 2 {
		t.Errorf("TriplesWritten = %d, want 2", result.TriplesWritten)
	}
}

// tripleKey ignores TxID: each Run call (including a fresh run started
// after a resume) generates its own job-wide txID, so a pre-crash triple
// and a post-resume triple sharing the same (subject, predicate, object,
// timestamp) legitimately carry different transaction identifiers.
type tripleKey struct {
	Subject, Predicate, Value string
	Timestamp                 uint64
}

func decodeAllTriples(t *testing.T, ctx context.Context, objStore store.ObjectStore, chunks []writer.ChunkMeta) []tripleKey {
	t.Helper()
	var keys []tripleKey
	for _, c := range chunks {
		data, err := objStore.Get(ctx, c.Path)
		if err != nil {
			t.Fatalf("chunk %s missing from object store: %v", c.Path, err)
		}
		triples, err := graphcol.Decode(data)
		if err != nil {
			t.Fatalf("chunk %s failed to decode: %v", c.Path, err)
		}
		for _, tr := range triples {
			keys = append(keys, tripleKey{Subject: tr.Subject, Predicate: tr.Predicate, Value: tr.Object.Str(), Timestamp: tr.Timestamp})
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Subject != keys[j].Subject {
			return keys[i].Subject < keys[j].Subject
		}
		return keys[i].Timestamp < keys[j].Timestamp
	})
	return keys
}

// TestResumeFromMidJobCheckpointMatchesUninterruptedRun exercises §8
// Testable Property 9: a job resumed from a mid-job checkpoint must
// produce a final result set-equal to an uninterrupted run over the same
// input, even when the crash lands between batch boundaries (fewer lines
// than BatchSize buffered but unflushed at checkpoint time).
func TestResumeFromMidJobCheckpointMatchesUninterruptedRun(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	lines := []string{
		namespace + "a\tname\tAlice",
		namespace + "b\tname\tBob",
		namespace + "c\tname\tCarol",
		namespace + "d\tname\tDave",
		namespace + "e\tname\tEve",
		namespace + "f\tname\tFrank",
	}
	full := strings.Join(lines, "\n") + "\n"

	newCfg := func() Config {
		return Config{
			SourceURL:        "https://source.example.com/data.tsv",
			Format:           FormatTSV,
			UseRangeRequests: true,
			Namespace:        namespace,
			Transform:        tsvTransform,
			WriterConfig:     writer.DefaultConfig(),
			// MaxAttempts=1: the "crash" below is a scriptedDoer running out
			// of responses, which is a retryable transport error; without
			// this the fetcher would burn through the real exponential
			// backoff schedule before giving up.
			FetchConfig: fetch.Config{MaxAttempts: 1},
		}
	}
	cfg := newCfg()
	cfg.WriterConfig.BatchSize = 2

	// Uninterrupted run: the whole body in one window.
	uninterruptedObjStore := store.NewMapObjectStore()
	uninterrupted := New(cfg, &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusOK, body: full},
	}}, uninterruptedObjStore, store.NewMapKVStore())
	wantResult, err := uninterrupted.Run(ctx)
	if err != nil {
		t.Fatalf("uninterrupted Run failed: %v", err)
	}
	if wantResult.TriplesWritten != int64(len(lines)) {
		t.Fatalf("uninterrupted run wrote %d triples, want %d", wantResult.TriplesWritten, len(lines))
	}

	// Interrupted run: window1 covers the first three lines and leaves one
	// triple buffered (BatchSize=2, 3 lines -> one full batch + one
	// pending triple) when the checkpoint is taken; the second window's
	// request then "crashes" because the scriptedDoer has nothing more
	// scripted.
	split := len(lines[0]) + 1 + len(lines[1]) + 1 + len(lines[2]) + 1
	w1, w2 := full[:split], full[split:]

	sharedKV := store.NewMapKVStore()
	sharedObjStore := store.NewMapObjectStore()

	crashing := New(cfg, &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusPartialContent, body: w1, header: http.Header{"Content-Range": []string{fmt.Sprintf("bytes 0-%d/%d", len(w1)-1, len(full))}}},
	}}, sharedObjStore, sharedKV)

	crashResult, err := crashing.Run(ctx)
	if err == nil {
		t.Fatal("expected the interrupted run to fail when the scripted transport runs out of responses")
	}
	if crashResult.State != StateError {
		t.Fatalf("State = %v, want error", crashResult.State)
	}

	cp, err := crashing.cps.Load(ctx, crashing.jobID)
	if err != nil || cp == nil {
		t.Fatalf("expected a checkpoint to survive the crash, got %+v, err=%v", cp, err)
	}
	if len(cp.BatchWriterState.Chunks) == 0 {
		t.Fatal("expected the checkpoint to include at least the force-flushed pending batch")
	}

	// Resume: a fresh Importer instance, same jobID (same namespace +
	// sourceURL), same backing stores, a new doer serving only what
	// remains.
	resumed := New(cfg, &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusPartialContent, body: w2, header: http.Header{"Content-Range": []string{fmt.Sprintf("bytes %d-%d/%d", split, len(full)-1, len(full))}}},
	}}, sharedObjStore, sharedKV)

	resumedResult, err := resumed.Run(ctx)
	if err != nil {
		t.Fatalf("resumed Run failed: %v", err)
	}
	if resumedResult.State != StateCompleted {
		t.Fatalf("resumed State = %v, want completed", resumedResult.State)
	}

	totalLinesSeen := crashResult.LinesProcessed + (resumedResult.LinesProcessed - cp.LinesProcessed)
	if totalLinesSeen != int64(len(lines)) {
		t.Errorf("lines processed across crash+resume = %d, want %d", totalLinesSeen, len(lines))
	}

	if resumedResult.Manifest == nil || resumedResult.Manifest.Stats.TotalTriples != len(lines) {
		t.Fatalf("resumed manifest TotalTriples = %v, want %d", resumedResult.Manifest, len(lines))
	}

	wantKeys := decodeAllTriples(t, ctx, uninterruptedObjStore, wantResult.Chunks)
	gotKeys := decodeAllTriples(t, ctx, sharedObjStore, resumedResult.Chunks)
	if !reflect.DeepEqual(wantKeys, gotKeys) {
		t.Errorf("resumed run produced a different triple set than the uninterrupted run:\nwant %+v\ngot  %+v", wantKeys, gotKeys)
	}

	if finalCp, err := resumed.cps.Load(ctx, resumed.jobID); err != nil || finalCp != nil {
		t.Errorf("expected checkpoint to be deleted after the resumed run completes, got %+v, err=%v", finalCp, err)
	}
}

func TestRunRefusesToResumeUnownedCheckpointWithoutForce(t *testing.T) {
	ctx := context.Background()
	namespace := "https://example.com/entities/"
	doer := &scriptedDoer{}
	kv := store.NewMapKVStore()

	im := New(Config{
		SourceURL: "https://source.example.com/data.ndjson",
		Format:    FormatNDJSON,
		Namespace: namespace,
		Transform: ndjsonTransform,
	}, doer, store.NewMapObjectStore(), kv)

	seed := &checkpoint.ImportCheckpoint{JobID: im.jobID, OwnerToken: "other-owner"}
	if err := im.cps.Save(ctx, seed); err != nil {
		t.Fatalf("seeding checkpoint failed: %v", err)
	}

	result, err := im.Run(ctx)
	if err == nil {
		t.Fatal("expected Run to refuse resuming a checkpoint owned by a different token")
	}
	if result.State != StateError {
		t.Errorf("State = %v, want error", result.State)
	}
}
