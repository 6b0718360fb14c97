// Package importer implements the streaming importer orchestrator of
// §4.9: it composes the range fetcher, streaming line reader, GraphCol
// writer, and checkpoint store into one resumable job that turns a
// remote NDJSON or TSV source into namespace-scoped GraphCol chunks plus
// a manifest.
//
// Grounded on beenet's pkg/agent orchestration loop: a small state
// machine (idle/loading/completed/error) driving a sequence of
// suspension points, each of which persists enough state to resume after
// a cancellation — generalized here from agent lifecycle management to
// one import job's lifecycle.
package importer

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/beenet-labs/graphlake/internal/checkpoint"
	"github.com/beenet-labs/graphlake/internal/fetch"
	"github.com/beenet-labs/graphlake/internal/lines"
	"github.com/beenet-labs/graphlake/internal/manifest"
	"github.com/beenet-labs/graphlake/internal/model"
	"github.com/beenet-labs/graphlake/internal/obslog"
	"github.com/beenet-labs/graphlake/internal/store"
	"github.com/beenet-labs/graphlake/internal/ulid"
	"github.com/beenet-labs/graphlake/internal/writer"
)

// Format selects how source lines are parsed into records before Transform
// runs.
type Format int

const (
	FormatNDJSON Format = iota
	FormatTSV
)

// DefaultCheckpointEveryLines is used when no ranged fetch windows exist
// to anchor checkpoint cadence to (§4.9 step 5, "every ~50K lines without
// ranges").
const DefaultCheckpointEveryLines = 50_000

// TransformFunc converts one parsed record (a map[string]interface{} for
// FormatNDJSON, a []string of columns for FormatTSV) plus the job's
// shared txID into zero or more triples.
type TransformFunc func(record interface{}, txID string) ([]model.Triple, error)

// State is the per-job lifecycle of §4.9: idle -> loading -> {completed,
// error}, with error resumable back to loading.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateCompleted
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateCompleted:
		return "completed"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Config describes one import job.
type Config struct {
	SourceURL        string
	Format           Format
	Gzipped          bool
	Namespace        string
	UseRangeRequests bool
	Transform        TransformFunc

	// CheckpointEveryLines sets the non-ranged checkpoint cadence; zero
	// uses DefaultCheckpointEveryLines.
	CheckpointEveryLines int

	// OwnerToken identifies this process for the §9 OQ2 best-effort
	// concurrent-writer guard; Force bypasses a mismatch.
	OwnerToken string
	Force      bool

	FetchConfig  fetch.Config
	WriterConfig writer.Config
	// LineReaderMaxBuffer caps an unterminated line's buffer; zero uses
	// lines.DefaultMaxBufferSize.
	LineReaderMaxBuffer int
}

func (c Config) checkpointEvery() int {
	if c.CheckpointEveryLines > 0 {
		return c.CheckpointEveryLines
	}
	return DefaultCheckpointEveryLines
}

// Result is what Run returns on every exit path (success or failure),
// carrying partial counts per §4.9 step 7.
type Result struct {
	JobID          string
	State          State
	LinesProcessed int64
	TriplesWritten int64
	ParseErrors    int64
	Chunks         []writer.ChunkMeta
	Manifest       *manifest.Manifest
	Err            error
}

// Importer runs one job's pipeline: fetch -> decompress? -> line split ->
// parse -> transform -> batch -> encode -> upload -> checkpoint.
type Importer struct {
	cfg      Config
	jobID    string
	doer     fetch.Doer
	fetcher  *fetch.Fetcher
	objStore store.ObjectStore
	cps      *checkpoint.Store
	log      *logrus.Entry
}

// New constructs an Importer. doer is the HTTP transport collaborator
// (e.g. *http.Client); objStore and kv are the object-store and durable
// key-value store collaborators.
func New(cfg Config, doer fetch.Doer, objStore store.ObjectStore, kv store.KVStore) *Importer {
	jobID := deriveJobID(cfg.Namespace, cfg.SourceURL)
	return &Importer{
		cfg:      cfg,
		jobID:    jobID,
		doer:     doer,
		fetcher:  fetch.New(doer, cfg.FetchConfig),
		objStore: objStore,
		cps:      checkpoint.NewStore(kv),
		log:      obslog.WithComponent(obslog.New(jobID), "importer"),
	}
}

// JobID returns the job identifier this Importer was derived with.
func (im *Importer) JobID() string { return im.jobID }

func deriveJobID(namespace, sourceURL string) string {
	h := fnv.New32a()
	h.Write([]byte(sourceURL))
	host := namespace
	if i := strings.Index(namespace, "://"); i >= 0 {
		host = namespace[i+3:]
	}
	host = strings.Trim(host, "/")
	return fmt.Sprintf("%s-%08x", host, h.Sum32())
}

// runState holds the mutable pipeline state threaded through one Run.
type runState struct {
	lr  *lines.Reader
	w   *writer.Writer
	txID string

	linesProcessed int64
	triplesWritten int64
	parseErrors    int64
	byteOffset     int64

	// skipLines implements resume for the non-ranged path (§9 OQ1/OQ3):
	// since a decompressed gzip stream has no meaningful byte offset to
	// seek to, resuming re-reads the source from the beginning and
	// discards (without re-transforming or re-writing) the lines already
	// accounted for by the checkpoint.
	skipLines int64
}

// Run executes the job to completion (or to the first unrecoverable
// error), returning a Result on every exit path.
func (im *Importer) Run(ctx context.Context) (*Result, error) {
	if im.cfg.Gzipped && im.cfg.UseRangeRequests {
		err := errUnsupportedConfig("importer: gzipped range-windowed fetch is not supported (§9 OQ1); set useRangeRequests=false for gzipped sources")
		return &Result{JobID: im.jobID, State: StateError, Err: err}, err
	}

	cp, err := im.cps.Load(ctx, im.jobID)
	if err != nil {
		return &Result{JobID: im.jobID, State: StateError, Err: err}, err
	}
	if cp != nil && !cp.OwnedBy(im.cfg.OwnerToken) && !im.cfg.Force {
		err := errOwnerMismatch(im.jobID, cp.OwnerToken, im.cfg.OwnerToken)
		return &Result{JobID: im.jobID, State: StateError, Err: err}, err
	}

	st, err := im.newRunState(cp)
	if err != nil {
		return &Result{JobID: im.jobID, State: StateError, Err: err}, err
	}

	im.log.Info("import job starting")

	var runErr error
	if im.cfg.UseRangeRequests {
		runErr = im.runRanged(ctx, st)
	} else {
		runErr = im.runFull(ctx, st)
	}

	if runErr != nil {
		im.saveTerminalCheckpoint(ctx, st, runErr)
		return im.result(st, StateError, runErr), runErr
	}

	return im.finish(ctx, st)
}

func (im *Importer) newRunState(cp *checkpoint.ImportCheckpoint) (*runState, error) {
	maxBuf := im.cfg.LineReaderMaxBuffer
	if maxBuf <= 0 {
		maxBuf = lines.DefaultMaxBufferSize
	}
	st := &runState{
		lr: lines.New(maxBuf),
		w:  writer.New(im.cfg.Namespace, im.jobID, im.objStore, im.cfg.WriterConfig),
	}

	gen := ulid.NewGenerator()
	txID, err := gen.New(uint64(time.Now().UnixMilli()))
	if err != nil {
		return nil, model.ErrInvariantViolation("importer: failed to generate job txId: %v", err)
	}
	st.txID = txID

	if cp == nil {
		return st, nil
	}

	st.lr.Restore(cp.LineReaderState)
	if err := st.w.Restore(cp.BatchWriterState); err != nil {
		return nil, model.ErrCheckpointError(err, "importer: failed to restore writer state")
	}
	st.byteOffset = cp.ByteOffset
	st.linesProcessed = cp.LinesProcessed
	st.triplesWritten = cp.TriplesWritten
	if !im.cfg.UseRangeRequests {
		st.skipLines = cp.LinesProcessed
	}
	return st, nil
}

func (im *Importer) runRanged(ctx context.Context, st *runState) error {
	return im.fetcher.FetchChunks(ctx, im.cfg.SourceURL, st.byteOffset, func(data []byte, offset int64) error {
		for _, ln := range st.lr.ProcessChunk(data) {
			if err := im.handleLine(ctx, st, ln); err != nil {
				return err
			}
		}
		st.byteOffset = offset + int64(len(data))
		return im.saveCheckpoint(ctx, st)
	})
}

func (im *Importer) runFull(ctx context.Context, st *runState) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, im.cfg.SourceURL, nil)
	if err != nil {
		return model.ErrFetchFatal(err, "importer: failed to build request for %s", im.cfg.SourceURL)
	}
	resp, err := im.doer.Do(req)
	if err != nil {
		return model.ErrFetchTransient(err, "importer: failed to fetch %s", im.cfg.SourceURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return model.ErrFetchFatal(fmt.Errorf("status %d", resp.StatusCode), "importer: non-200 status fetching %s", im.cfg.SourceURL)
	}

	var body io.Reader = resp.Body
	if im.cfg.Gzipped {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return model.ErrFetchFatal(err, "importer: failed to open gzip stream for %s", im.cfg.SourceURL)
		}
		defer gz.Close()
		body = gz
	}

	checkpointEvery := int64(im.cfg.checkpointEvery())
	lastCheckpointAt := st.linesProcessed

	buf := make([]byte, 64*1024)
	r := bufio.NewReader(body)
	for {
		n, readErr := r.Read(buf)
		if n > 0 {
			st.byteOffset += int64(n)
			for _, ln := range st.lr.ProcessChunk(buf[:n]) {
				if err := im.handleLine(ctx, st, ln); err != nil {
					return err
				}
			}
			if st.linesProcessed-lastCheckpointAt >= checkpointEvery {
				if err := im.saveCheckpoint(ctx, st); err != nil {
					return err
				}
				lastCheckpointAt = st.linesProcessed
			}
		}
		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return model.ErrFetchTransient(readErr, "importer: error reading body of %s", im.cfg.SourceURL)
		}
	}
}

func (im *Importer) handleLine(ctx context.Context, st *runState, line string) error {
	if st.skipLines > 0 {
		st.skipLines--
		return nil
	}
	st.linesProcessed++

	record, err := parseRecord(im.cfg.Format, line)
	if err != nil {
		st.parseErrors++
		return nil
	}
	triples, err := im.cfg.Transform(record, st.txID)
	if err != nil {
		st.parseErrors++
		return nil
	}
	for _, t := range triples {
		// §4.2's "core re-validates on persistence" contract: a Transform
		// callback is free-form user code over untrusted source data, so a
		// triple reaching here is no more trustworthy than the raw line was.
		// A failure is absorbed the same way a parse error is (counted,
		// not persisted) rather than aborting the whole job over one bad
		// record.
		if err := t.Validate(); err != nil {
			st.parseErrors++
			continue
		}
		if err := st.w.Add(ctx, t); err != nil {
			return err
		}
		st.triplesWritten++
	}
	return nil
}

func parseRecord(format Format, line string) (interface{}, error) {
	switch format {
	case FormatNDJSON:
		var record map[string]interface{}
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			return nil, model.ErrParseError(err, "importer: malformed NDJSON line")
		}
		return record, nil
	case FormatTSV:
		return strings.Split(line, "\t"), nil
	default:
		return nil, model.ErrParseError(nil, "importer: unknown format %d", int(format))
	}
}

func (im *Importer) saveCheckpoint(ctx context.Context, st *runState) error {
	if err := st.w.Flush(ctx); err != nil {
		return model.ErrCheckpointError(err, "importer: failed to flush pending batch before checkpoint")
	}
	lrState := st.lr.Snapshot()
	wState, err := st.w.Snapshot()
	if err != nil {
		return model.ErrCheckpointError(err, "importer: failed to snapshot writer state")
	}
	_, err = im.cps.Update(ctx, im.jobID, func(cp *checkpoint.ImportCheckpoint) {
		cp.SourceURL = im.cfg.SourceURL
		cp.ByteOffset = st.byteOffset
		cp.LinesProcessed = st.linesProcessed
		cp.TriplesWritten = st.triplesWritten
		cp.LineReaderState = lrState
		cp.BatchWriterState = wState
		cp.OwnerToken = im.cfg.OwnerToken
	})
	return err
}

func (im *Importer) saveTerminalCheckpoint(ctx context.Context, st *runState, runErr error) {
	if err := st.w.Flush(ctx); err != nil {
		im.log.WithField("err", err).Error("failed to flush pending batch for terminal checkpoint")
	}
	lrState := st.lr.Snapshot()
	wState, err := st.w.Snapshot()
	if err != nil {
		im.log.WithField("err", err).Error("failed to snapshot writer state for terminal checkpoint")
		return
	}
	if _, err := im.cps.Update(ctx, im.jobID, func(cp *checkpoint.ImportCheckpoint) {
		cp.SourceURL = im.cfg.SourceURL
		cp.ByteOffset = st.byteOffset
		cp.LinesProcessed = st.linesProcessed
		cp.TriplesWritten = st.triplesWritten
		cp.LineReaderState = lrState
		cp.BatchWriterState = wState
		cp.OwnerToken = im.cfg.OwnerToken
		if cp.Metadata == nil {
			cp.Metadata = map[string]string{}
		}
		cp.Metadata["error"] = runErr.Error()
	}); err != nil {
		im.log.WithField("err", err).Error("failed to persist terminal checkpoint")
	}
}

func (im *Importer) finish(ctx context.Context, st *runState) (*Result, error) {
	for _, ln := range st.lr.Flush() {
		if err := im.handleLine(ctx, st, ln); err != nil {
			im.saveTerminalCheckpoint(ctx, st, err)
			return im.result(st, StateError, err), err
		}
	}

	chunks, combinedBloom, err := st.w.Finalize(ctx)
	if err != nil {
		im.saveTerminalCheckpoint(ctx, st, err)
		return im.result(st, StateError, err), err
	}

	var combinedBloomBytes []byte
	if combinedBloom != nil {
		combinedBloomBytes, err = combinedBloom.Serialize()
		if err != nil {
			wrapped := model.ErrWriteError(err, "importer: failed to serialize combined bloom for manifest")
			im.saveTerminalCheckpoint(ctx, st, wrapped)
			return im.result(st, StateError, wrapped), wrapped
		}
	}

	m := manifest.Build(im.cfg.Namespace, chunks, combinedBloomBytes, time.Now().UnixMilli())
	manifestData, err := json.Marshal(m)
	if err != nil {
		wrapped := model.ErrWriteError(err, "importer: failed to marshal manifest")
		im.saveTerminalCheckpoint(ctx, st, wrapped)
		return im.result(st, StateError, wrapped), wrapped
	}
	if err := im.objStore.Put(ctx, manifestPath(im.cfg.Namespace, im.jobID), manifestData); err != nil {
		wrapped := model.ErrWriteError(err, "importer: failed to upload manifest")
		im.saveTerminalCheckpoint(ctx, st, wrapped)
		return im.result(st, StateError, wrapped), wrapped
	}

	if err := im.cps.Delete(ctx, im.jobID); err != nil {
		im.log.WithField("err", err).Error("failed to delete checkpoint after successful completion")
	}

	if n := st.lr.TruncatedLineCount(); n > 0 {
		im.log.WithField("truncatedLines", n).Warn("oversized unterminated lines were truncated")
	}
	im.log.Info("import job completed")
	result := im.result(st, StateCompleted, nil)
	result.Chunks = chunks
	result.Manifest = m
	return result, nil
}

func (im *Importer) result(st *runState, state State, err error) *Result {
	return &Result{
		JobID:          im.jobID,
		State:          state,
		LinesProcessed: st.linesProcessed,
		TriplesWritten: st.triplesWritten,
		ParseErrors:    st.parseErrors,
		Err:            err,
	}
}

func manifestPath(namespace, jobID string) string {
	host := namespace
	if i := strings.Index(namespace, "://"); i >= 0 {
		host = namespace[i+3:]
	}
	host = strings.Trim(host, "/")
	labels := strings.Split(host, ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, "/") + "/_manifest/" + jobID + ".json"
}
