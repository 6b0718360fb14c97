// Package writer implements the batched triple writer of §4.7: it
// accumulates triples until a batch fills, encodes each batch as a
// GraphCol chunk, uploads it to the object store under a derived path, and
// maintains both a per-chunk and a job-wide combined bloom filter so the
// router can later narrow which chunks might hold a given entity.
//
// Grounded on beenet's pkg/content chunker/fetcher pair: a semaphore
// (buffered channel) bounds how many uploads are in flight at once, the
// same backpressure device fetcher.go uses to bound concurrent fetches,
// generalized here to bound concurrent uploads instead.
package writer

import (
	"context"
	"sync"
	"time"

	"github.com/beenet-labs/graphlake/internal/bloom"
	"github.com/beenet-labs/graphlake/internal/chunkid"
	"github.com/beenet-labs/graphlake/internal/graphcol"
	"github.com/beenet-labs/graphlake/internal/model"
	"github.com/beenet-labs/graphlake/internal/store"
)

// DefaultBatchSize and DefaultMaxPendingBatches are the §4.7 defaults.
const (
	DefaultBatchSize         = 10_000
	DefaultMaxPendingBatches = 2
	DefaultCombinedCapacity  = 1_000_000

	maxChunkBloomBytes    = 16 * 1024
	maxCombinedBloomBytes = 64 * 1024
	minChunkBloomCapacity = 100
)

// Config configures batching, upload backpressure, and bloom sizing.
type Config struct {
	BatchSize         int
	MaxPendingBatches int
	BloomTargetFPR    float64
	// CombinedCapacity sizes the job-wide combined bloom up front (§4.4);
	// unlike per-chunk blooms it is not resized per batch, since resizing
	// would change (m, k) mid-job for a filter that is never merged with
	// anything else, only added to directly.
	CombinedCapacity uint64
}

// DefaultConfig returns the §4.7 defaults (1% target bloom FPR, matching
// §4.4's worked example).
func DefaultConfig() Config {
	return Config{
		BatchSize:         DefaultBatchSize,
		MaxPendingBatches: DefaultMaxPendingBatches,
		BloomTargetFPR:    0.01,
		CombinedCapacity:  DefaultCombinedCapacity,
	}
}

func (c Config) normalized() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.MaxPendingBatches <= 0 {
		c.MaxPendingBatches = DefaultMaxPendingBatches
	}
	if c.BloomTargetFPR <= 0 {
		c.BloomTargetFPR = 0.01
	}
	if c.CombinedCapacity <= 0 {
		c.CombinedCapacity = DefaultCombinedCapacity
	}
	return c
}

// ChunkMeta records one flushed chunk's location and stats, matching the
// §6 chunk descriptor shape: {id, path, tripleCount, minTime, maxTime,
// bytes, [bloom]}. MinTime/MaxTime are tagged ",string" per §6's "BigInt
// timestamps are serialized as decimal strings".
type ChunkMeta struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	TripleCount int    `json:"tripleCount"`
	Bytes       int    `json:"bytes"`
	MinTime     uint64 `json:"minTime,string"`
	MaxTime     uint64 `json:"maxTime,string"`
	// Bloom is the serialized per-chunk membership filter (§4.4), covering
	// this chunk's subjects and REF/REF_ARRAY objects, so a router can
	// consult a chunk's own index without downloading the chunk itself.
	Bloom []byte `json:"bloom,omitempty"`
	// ContentHash is a BLAKE3-256 content hash of the encoded frame,
	// auxiliary to GraphCol's own CRC trailer: it lets a manifest verifier
	// catch a chunk silently substituted for another (internal/chunkid),
	// not just transport-level corruption. Not part of the documented §6
	// wire contract; additive and ignored by a consumer that doesn't know it.
	ContentHash string `json:"contentHash,omitempty"`
}

// Writer batches triples into GraphCol chunks and uploads them.
type Writer struct {
	cfg       Config
	namespace string
	jobID     string
	objStore  store.ObjectStore
	now       func() time.Time

	mu            sync.Mutex
	pending       []model.Triple
	chunks        []ChunkMeta
	combinedBloom *bloom.Filter
	firstErr      error

	gate chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Writer that uploads to objStore under paths derived
// from namespace, tagging its combined bloom index with jobID.
func New(namespace, jobID string, objStore store.ObjectStore, cfg Config) *Writer {
	cfg = cfg.normalized()
	return &Writer{
		cfg:       cfg,
		namespace: namespace,
		jobID:     jobID,
		objStore:  objStore,
		now:       time.Now,
		gate:      make(chan struct{}, cfg.MaxPendingBatches),
		combinedBloom: bloom.New(bloom.Options{
			Capacity:     cfg.CombinedCapacity,
			TargetFPR:    cfg.BloomTargetFPR,
			MaxSizeBytes: maxCombinedBloomBytes,
		}),
	}
}

// Add appends a triple to the current batch, flushing (and, subject to
// MaxPendingBatches backpressure, asynchronously uploading) a full batch.
func (w *Writer) Add(ctx context.Context, t model.Triple) error {
	w.mu.Lock()
	if w.firstErr != nil {
		err := w.firstErr
		w.mu.Unlock()
		return err
	}
	w.pending = append(w.pending, t)
	var batch []model.Triple
	if len(w.pending) >= w.cfg.BatchSize {
		batch = w.pending
		w.pending = nil
	}
	w.mu.Unlock()

	if batch != nil {
		return w.flush(ctx, batch)
	}
	return nil
}

// flush encodes and uploads one batch, blocking until a pending-batch slot
// is available (bounding memory to MaxPendingBatches batches in flight).
func (w *Writer) flush(ctx context.Context, batch []model.Triple) error {
	select {
	case w.gate <- struct{}{}:
	case <-ctx.Done():
		return model.ErrWriteError(ctx.Err(), "writer: canceled waiting for an upload slot")
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.gate }()
		w.uploadBatch(ctx, batch)
	}()
	return nil
}

func (w *Writer) uploadBatch(ctx context.Context, batch []model.Triple) {
	unique := uniqueEntities(batch)
	capacity := uint64(len(unique))
	if capacity < minChunkBloomCapacity {
		capacity = minChunkBloomCapacity
	}
	chunkBloom := bloom.New(bloom.Options{Capacity: capacity, TargetFPR: w.cfg.BloomTargetFPR, MaxSizeBytes: maxChunkBloomBytes})
	for _, id := range unique {
		chunkBloom.Add(id)
	}

	frame, err := graphcol.Encode(w.namespace, batch)
	if err != nil {
		w.recordErr(model.ErrWriteError(err, "writer: failed to encode batch of %d triples", len(batch)))
		return
	}

	id, err := newChunkID(w.now)
	if err != nil {
		w.recordErr(model.ErrWriteError(err, "writer: failed to generate chunk id"))
		return
	}
	path, err := chunkPath(w.namespace, id)
	if err != nil {
		w.recordErr(model.ErrWriteError(err, "writer: failed to derive chunk path"))
		return
	}

	err = w.objStore.Put(ctx, path, frame)
	if err != nil {
		err = w.objStore.Put(ctx, path, frame)
	}
	if err != nil {
		w.recordErr(model.ErrWriteError(err, "writer: failed to upload chunk %s", path))
		return
	}

	chunkBloomBytes, err := chunkBloom.Serialize()
	if err != nil {
		w.recordErr(model.ErrWriteError(err, "writer: failed to serialize chunk bloom for %s", path))
		return
	}

	minTime, maxTime := batch[0].Timestamp, batch[0].Timestamp
	for _, t := range batch[1:] {
		if t.Timestamp < minTime {
			minTime = t.Timestamp
		}
		if t.Timestamp > maxTime {
			maxTime = t.Timestamp
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append(w.chunks, ChunkMeta{
		ID: id, Path: path, TripleCount: len(batch), Bytes: len(frame),
		MinTime: minTime, MaxTime: maxTime, Bloom: chunkBloomBytes,
		ContentHash: chunkid.Hash(frame),
	})
	for _, id := range unique {
		w.combinedBloom.Add(id)
	}
}

// uniqueEntities collects the distinct subject and REF/REF_ARRAY object
// identifiers referenced by a batch, the entity population a chunk's bloom
// filter must cover (§4.7).
func uniqueEntities(batch []model.Triple) []string {
	seen := make(map[string]struct{}, len(batch))
	var out []string
	add := func(id string) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	for _, t := range batch {
		add(t.Subject)
		switch t.Object.Tag() {
		case model.TagRef:
			add(t.Object.Str())
		case model.TagRefArray:
			for _, r := range t.Object.RefArray() {
				add(r)
			}
		}
	}
	return out
}

func (w *Writer) recordErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.firstErrLocked(err)
}

func (w *Writer) firstErrLocked(err error) {
	if w.firstErr == nil {
		w.firstErr = err
	}
}

// Finalize flushes any remaining partial batch, waits for all in-flight
// uploads, uploads the combined bloom index, and returns the chunk
// manifest. It returns the first error encountered by any batch, if any.
func (w *Writer) Finalize(ctx context.Context) ([]ChunkMeta, *bloom.Filter, error) {
	w.mu.Lock()
	remaining := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(remaining) > 0 {
		if err := w.flush(ctx, remaining); err != nil {
			return nil, nil, err
		}
	}
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.firstErr != nil {
		return nil, nil, w.firstErr
	}
	if w.combinedBloom != nil {
		data, err := w.combinedBloom.Serialize()
		if err != nil {
			return nil, nil, model.ErrWriteError(err, "writer: failed to serialize combined bloom index")
		}
		path, err := bloomPath(w.namespace, w.jobID)
		if err != nil {
			return nil, nil, model.ErrWriteError(err, "writer: failed to derive bloom index path")
		}
		err = w.objStore.Put(ctx, path, data)
		if err != nil {
			err = w.objStore.Put(ctx, path, data)
		}
		if err != nil {
			return nil, nil, model.ErrWriteError(err, "writer: failed to upload combined bloom index")
		}
	}
	return append([]ChunkMeta(nil), w.chunks...), w.combinedBloom, nil
}

// Flush force-uploads any pending (not yet batch-full) triples as a short
// chunk and waits for every in-flight upload to finish. A checkpoint is not
// guaranteed to land on a batch boundary (§4.9 step 5 checkpoints every
// ~50K lines; a ranged fetch checkpoints every window), so the orchestrator
// must call Flush immediately before Snapshot — otherwise the triples still
// sitting in the current partial batch are absent from both the chunk list
// and the resume offset, and are silently lost forever on resume (§8
// Testable Property 9).
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if len(pending) > 0 {
		if err := w.flush(ctx, pending); err != nil {
			return err
		}
	}
	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.firstErr
}

// State is a serializable snapshot of chunks already durably flushed, used
// to resume a job without re-uploading or re-counting them (§4.8). The
// orchestrator is responsible for re-deriving which source lines remain
// unprocessed; the writer only needs to remember what it has already
// committed.
type State struct {
	Chunks        []ChunkMeta
	CombinedBloom []byte
}

// Snapshot captures durably-flushed chunks and the combined bloom index.
// Pending (not yet batch-full) triples are captured only if the caller
// flushed them first: Snapshot itself never force-flushes, so a checkpoint
// taken without calling Flush beforehand silently drops whatever sits in
// the current partial batch.
func (w *Writer) Snapshot() (State, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := State{Chunks: append([]ChunkMeta(nil), w.chunks...)}
	if w.combinedBloom != nil {
		data, err := w.combinedBloom.Serialize()
		if err != nil {
			return State{}, model.ErrCheckpointError(err, "writer: failed to serialize combined bloom for snapshot")
		}
		s.CombinedBloom = data
	}
	return s, nil
}

// Restore reinstates a previously captured State into a freshly
// constructed Writer.
func (w *Writer) Restore(s State) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chunks = append([]ChunkMeta(nil), s.Chunks...)
	if len(s.CombinedBloom) > 0 {
		f, err := bloom.Deserialize(s.CombinedBloom)
		if err != nil {
			return model.ErrCheckpointError(err, "writer: failed to deserialize combined bloom from snapshot")
		}
		w.combinedBloom = f
	}
	return nil
}
