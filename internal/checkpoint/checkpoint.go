// Package checkpoint implements the resumable import state of §4.8:
// ImportCheckpoint is persisted under "checkpoint:{jobId}" in a durable
// key-value store and is the single source of truth an orchestrator
// consults to resume a job after a restart or a timeout-bounded iteration.
package checkpoint

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/beenet-labs/graphlake/internal/lines"
	"github.com/beenet-labs/graphlake/internal/model"
	"github.com/beenet-labs/graphlake/internal/store"
	"github.com/beenet-labs/graphlake/internal/writer"
	"github.com/beenet-labs/graphlake/pkg/codec/cborcanon"
)

const keyPrefix = "checkpoint:"

func key(jobID string) string { return keyPrefix + jobID }

// ImportCheckpoint is the §3 persisted shape for an in-progress (or
// terminated) import job.
type ImportCheckpoint struct {
	JobID      string `json:"jobId"`
	SourceURL  string `json:"sourceUrl"`
	ByteOffset int64  `json:"byteOffset"`
	// TotalBytes is nil until the fetcher has learned the source's total
	// size (§4.6 GetTotalSize / a first Content-Range response).
	TotalBytes *int64 `json:"totalBytes,omitempty"`

	LinesProcessed int64 `json:"linesProcessed"`
	TriplesWritten int64 `json:"triplesWritten"`

	LineReaderState  lines.State  `json:"lineReaderState"`
	BatchWriterState writer.State `json:"batchWriterState"`

	// OwnerToken is the best-effort concurrent-writer guard of §9 OQ2: an
	// orchestrator refuses to resume a checkpoint whose OwnerToken doesn't
	// match its own process-local token unless the caller passes force.
	// This is not a distributed lock; it only catches the common accident
	// of two processes racing to resume the same job.
	OwnerToken string `json:"ownerToken,omitempty"`

	// Metadata carries free-form diagnostics, notably the terminal error
	// message §4.9 step 7 requires saving when a job fails.
	Metadata map[string]string `json:"metadata,omitempty"`

	CheckpointedAt time.Time `json:"checkpointedAt"`
}

// checkpointWire is ImportCheckpoint's on-the-wire shape: LineReaderState
// and BatchWriterState are opaque, canonical-CBOR-encoded blobs rather
// than nested JSON objects, so the partial-line bytes and bloom bit
// arrays they carry round-trip deterministically regardless of this
// document's own JSON field ordering — the same canonical-encoding
// discipline beenet's pkg/codec/cborcanon enforces for signed wire
// frames, reused here for a checkpoint's embedded binary-ish state.
type checkpointWire struct {
	JobID            string            `json:"jobId"`
	SourceURL        string            `json:"sourceUrl"`
	ByteOffset       int64             `json:"byteOffset"`
	TotalBytes       *int64            `json:"totalBytes,omitempty"`
	LinesProcessed   int64             `json:"linesProcessed"`
	TriplesWritten   int64             `json:"triplesWritten"`
	LineReaderState  []byte            `json:"lineReaderStateCbor"`
	BatchWriterState []byte            `json:"batchWriterStateCbor"`
	OwnerToken       string            `json:"ownerToken,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CheckpointedAt   time.Time         `json:"checkpointedAt"`
}

// MarshalJSON canonically CBOR-encodes LineReaderState and
// BatchWriterState before handing the rest of the document to
// encoding/json.
func (c *ImportCheckpoint) MarshalJSON() ([]byte, error) {
	lrBytes, err := cborcanon.Marshal(c.LineReaderState)
	if err != nil {
		return nil, model.ErrCheckpointError(err, "checkpoint: failed to CBOR-encode line reader state")
	}
	wBytes, err := cborcanon.Marshal(c.BatchWriterState)
	if err != nil {
		return nil, model.ErrCheckpointError(err, "checkpoint: failed to CBOR-encode batch writer state")
	}
	return json.Marshal(checkpointWire{
		JobID:            c.JobID,
		SourceURL:        c.SourceURL,
		ByteOffset:       c.ByteOffset,
		TotalBytes:       c.TotalBytes,
		LinesProcessed:   c.LinesProcessed,
		TriplesWritten:   c.TriplesWritten,
		LineReaderState:  lrBytes,
		BatchWriterState: wBytes,
		OwnerToken:       c.OwnerToken,
		Metadata:         c.Metadata,
		CheckpointedAt:   c.CheckpointedAt,
	})
}

// UnmarshalJSON reverses MarshalJSON, CBOR-decoding the embedded state
// blobs back into their typed form.
func (c *ImportCheckpoint) UnmarshalJSON(data []byte) error {
	var wire checkpointWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	var lrState lines.State
	if len(wire.LineReaderState) > 0 {
		if err := cborcanon.Unmarshal(wire.LineReaderState, &lrState); err != nil {
			return model.ErrCheckpointError(err, "checkpoint: failed to CBOR-decode line reader state")
		}
	}
	var wState writer.State
	if len(wire.BatchWriterState) > 0 {
		if err := cborcanon.Unmarshal(wire.BatchWriterState, &wState); err != nil {
			return model.ErrCheckpointError(err, "checkpoint: failed to CBOR-decode batch writer state")
		}
	}
	c.JobID = wire.JobID
	c.SourceURL = wire.SourceURL
	c.ByteOffset = wire.ByteOffset
	c.TotalBytes = wire.TotalBytes
	c.LinesProcessed = wire.LinesProcessed
	c.TriplesWritten = wire.TriplesWritten
	c.LineReaderState = lrState
	c.BatchWriterState = wState
	c.OwnerToken = wire.OwnerToken
	c.Metadata = wire.Metadata
	c.CheckpointedAt = wire.CheckpointedAt
	return nil
}

// OwnedBy reports whether token may resume this checkpoint: either no
// owner was recorded yet, or it matches exactly.
func (c *ImportCheckpoint) OwnedBy(token string) bool {
	return c.OwnerToken == "" || c.OwnerToken == token
}

// Store persists ImportCheckpoint values in a durable KVStore collaborator.
type Store struct {
	kv  store.KVStore
	now func() time.Time
}

// NewStore wraps kv as a checkpoint Store.
func NewStore(kv store.KVStore) *Store {
	return &Store{kv: kv, now: time.Now}
}

// Load returns the checkpoint for jobID, or (nil, nil) if none exists.
func (s *Store) Load(ctx context.Context, jobID string) (*ImportCheckpoint, error) {
	raw, err := s.kv.Get(ctx, key(jobID))
	if err == store.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, model.ErrCheckpointError(err, "checkpoint: failed to load job %s", jobID)
	}
	var cp ImportCheckpoint
	if err := json.Unmarshal(raw, &cp); err != nil {
		return nil, model.ErrCheckpointError(err, "checkpoint: corrupt checkpoint for job %s", jobID)
	}
	return &cp, nil
}

// Save stamps CheckpointedAt and persists cp, overwriting any prior
// checkpoint for the same job.
func (s *Store) Save(ctx context.Context, cp *ImportCheckpoint) error {
	cp.CheckpointedAt = s.now()
	raw, err := json.Marshal(cp)
	if err != nil {
		return model.ErrCheckpointError(err, "checkpoint: failed to marshal job %s", cp.JobID)
	}
	if err := s.kv.Put(ctx, key(cp.JobID), raw); err != nil {
		return model.ErrCheckpointError(err, "checkpoint: failed to persist job %s", cp.JobID)
	}
	return nil
}

// Update performs a read-merge-write: it loads the existing checkpoint
// for jobID (or a zero-value one stamped with jobID if none exists yet),
// applies mutate, saves the result, and returns it.
func (s *Store) Update(ctx context.Context, jobID string, mutate func(*ImportCheckpoint)) (*ImportCheckpoint, error) {
	cp, err := s.Load(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &ImportCheckpoint{JobID: jobID}
	}
	mutate(cp)
	cp.JobID = jobID
	if err := s.Save(ctx, cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Delete removes jobID's checkpoint; this marks the job as having
// completed successfully (§4.8: "deletion marks success").
func (s *Store) Delete(ctx context.Context, jobID string) error {
	if err := s.kv.Delete(ctx, key(jobID)); err != nil {
		return model.ErrCheckpointError(err, "checkpoint: failed to delete job %s", jobID)
	}
	return nil
}

// List returns the job IDs of every checkpoint currently persisted.
func (s *Store) List(ctx context.Context) ([]string, error) {
	keys, err := s.kv.List(ctx, keyPrefix)
	if err != nil {
		return nil, model.ErrCheckpointError(err, "checkpoint: failed to list checkpoints")
	}
	jobIDs := make([]string, 0, len(keys))
	for _, k := range keys {
		jobIDs = append(jobIDs, strings.TrimPrefix(k, keyPrefix))
	}
	return jobIDs, nil
}
