// Package manifest builds and verifies the §3 ChunkManifest: the
// namespace-level summary of every chunk a streaming import produced,
// plus aggregate stats and (optionally) the combined bloom index.
//
// Grounded on beenet's pkg/content manifest: BuildManifest/VerifyManifest/
// VerifyManifestWithChunks assemble and re-check a content-addressed
// chunk list the same shape of way this package assembles and re-checks a
// GraphCol chunk list, generalized from content-addressed byte chunks to
// namespace-addressed triple chunks.
package manifest

import (
	"context"
	"sort"
	"time"

	"github.com/beenet-labs/graphlake/internal/chunkid"
	"github.com/beenet-labs/graphlake/internal/graphcol"
	"github.com/beenet-labs/graphlake/internal/model"
	"github.com/beenet-labs/graphlake/internal/store"
	"github.com/beenet-labs/graphlake/internal/writer"
)

const formatVersion = 1

// Stats is the §6 aggregate block of a Manifest. TotalBytes, MinTime, and
// MaxTime are tagged ",string" because §6 documents BigInt-range fields as
// decimal strings on the wire, the same posture as a JavaScript consumer
// that cannot represent a 64-bit integer as a JSON number without loss.
type Stats struct {
	TotalTriples int    `json:"totalTriples"`
	TotalBytes   int    `json:"totalBytes,string"`
	MinTime      uint64 `json:"minTime,string"`
	MaxTime      uint64 `json:"maxTime,string"`
}

// Manifest is the §3 ChunkManifest for one namespace, matching the §6
// binding wire contract: {namespace, chunks, stats, createdAt, updatedAt,
// version}.
type Manifest struct {
	Namespace     string             `json:"namespace"`
	Version       int                `json:"version"`
	CreatedAt     time.Time          `json:"createdAt"`
	UpdatedAt     time.Time          `json:"updatedAt"`
	Chunks        []writer.ChunkMeta `json:"chunks"`
	Stats         Stats              `json:"stats"`
	CombinedBloom []byte             `json:"combinedBloom,omitempty"`
}

// Build assembles a Manifest from a writer's finalized chunk list and
// combined bloom, computing the namespace-wide aggregate stats. createdAt
// is Unix milliseconds, matching the rest of this module's timestamp
// convention; it is normalized to UTC for the §6 "ISO-8601 UTC" wire form.
func Build(namespace string, chunks []writer.ChunkMeta, combinedBloom []byte, createdAt int64) *Manifest {
	at := time.UnixMilli(createdAt).UTC()
	m := &Manifest{
		Namespace:     namespace,
		Version:       formatVersion,
		CreatedAt:     at,
		UpdatedAt:     at,
		Chunks:        append([]writer.ChunkMeta(nil), chunks...),
		CombinedBloom: combinedBloom,
	}
	applyStats(m)
	return m
}

func applyStats(m *Manifest) {
	for i, c := range m.Chunks {
		m.Stats.TotalTriples += c.TripleCount
		m.Stats.TotalBytes += c.Bytes
		if i == 0 || c.MinTime < m.Stats.MinTime {
			m.Stats.MinTime = c.MinTime
		}
		if c.MaxTime > m.Stats.MaxTime {
			m.Stats.MaxTime = c.MaxTime
		}
	}
}

// ComputeStats recomputes the aggregate counts from m's chunk list; useful after
// a manifest has been loaded from storage or had chunks appended.
func ComputeStats(m *Manifest) Stats {
	var fresh Manifest
	fresh.Chunks = m.Chunks
	applyStats(&fresh)
	return fresh.Stats
}

// SortByMinTime orders a chunk list by MinTime, the order §4.7's
// chunk IDs already approximate but which a manifest assembled out of
// order (e.g. after a resumed job appended late chunks) should restore.
func SortByMinTime(chunks []writer.ChunkMeta) {
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].MinTime < chunks[j].MinTime })
}

// Verify re-decodes every chunk referenced by m from objStore and checks
// the invariants of §3: the chunk's declared triple count matches what
// decodes, its content hash matches when one is recorded, and every decoded
// subject is a valid entity URL. Subjects are not compared against the
// manifest's namespace. This is an internal diagnostic — GraphCol's own CRC
// check already guards wire-level corruption; Verify additionally catches
// a manifest whose chunk metadata has drifted from the chunk it describes.
func Verify(ctx context.Context, m *Manifest, objStore store.ObjectStore) error {
	for _, c := range m.Chunks {
		data, err := objStore.Get(ctx, c.Path)
		if err != nil {
			return model.ErrInvariantViolation("manifest: chunk %s missing from object store: %v", c.Path, err)
		}
		triples, err := graphcol.Decode(data)
		if err != nil {
			return model.ErrInvariantViolation("manifest: chunk %s failed to decode: %v", c.Path, err)
		}
		if len(triples) != c.TripleCount {
			return model.ErrInvariantViolation("manifest: chunk %s declares %d triples, decoded %d", c.Path, c.TripleCount, len(triples))
		}
		if c.ContentHash != "" {
			if err := chunkid.Verify(data, c.ContentHash); err != nil {
				return model.ErrInvariantViolation("manifest: chunk %s failed content-hash verification: %v", c.Path, err)
			}
		}
		for _, t := range triples {
			if err := model.ValidateEntityURL(t.Subject); err != nil {
				return model.ErrInvariantViolation("manifest: chunk %s decoded an invalid subject %q: %v", c.Path, t.Subject, err)
			}
		}
	}
	return nil
}
