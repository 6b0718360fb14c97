// Package main is a composition-root smoke-test binary for the importer:
// it wires internal/importer to an http.Client-backed fetcher and
// in-memory object/KV stores, then runs one job to completion and prints
// the result. It is explicitly not part of the core (§1) and carries no
// flag-parsing library beyond stdlib flag.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/beenet-labs/graphlake/internal/fetch"
	"github.com/beenet-labs/graphlake/internal/importer"
	"github.com/beenet-labs/graphlake/internal/model"
	"github.com/beenet-labs/graphlake/internal/store"
	"github.com/beenet-labs/graphlake/internal/writer"
)

func main() {
	var (
		sourceURL = flag.String("source", "", "URL of the NDJSON or TSV source to import")
		namespace = flag.String("namespace", "", "entity URL namespace prefix for this import")
		format    = flag.String("format", "ndjson", "source format: ndjson or tsv")
		gzipped   = flag.Bool("gzip", false, "whether the source is gzip-compressed")
		ranged    = flag.Bool("ranged", true, "use HTTP range requests (disable for gzipped sources)")
		ownerTok  = flag.String("owner", "graphlake-import-cli", "owner token for the checkpoint resume guard")
		force     = flag.Bool("force", false, "bypass the owner-token resume guard")
	)
	flag.Parse()

	if *sourceURL == "" || *namespace == "" {
		fmt.Fprintln(os.Stderr, "usage: graphlake-import -source <url> -namespace <entity-url-prefix> [-format ndjson|tsv] [-gzip] [-ranged=false]")
		os.Exit(2)
	}

	fm := importer.FormatNDJSON
	if *format == "tsv" {
		fm = importer.FormatTSV
	}

	cfg := importer.Config{
		SourceURL:        *sourceURL,
		Format:           fm,
		Gzipped:          *gzipped,
		Namespace:        *namespace,
		UseRangeRequests: *ranged,
		Transform:        genericTransform,
		OwnerToken:       *ownerTok,
		Force:            *force,
		FetchConfig:      fetch.DefaultConfig(),
		WriterConfig:     writer.DefaultConfig(),
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	objStore := store.NewMapObjectStore()
	kv := store.NewMapKVStore()

	im := importer.New(cfg, httpClient, objStore, kv)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	result, err := im.Run(ctx)
	if result != nil {
		report, _ := json.MarshalIndent(result, "", "  ")
		fmt.Println(string(report))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

// genericTransform handles an NDJSON object with "subject"/"predicate"/
// "value" string fields, or a 3-column TSV row in the same order. It is
// a smoke-test default, not a production parser: a real deployment
// supplies its own importer.TransformFunc tailored to its source schema.
func genericTransform(record interface{}, txID string) ([]model.Triple, error) {
	var subject, predicate, value string
	switch rec := record.(type) {
	case map[string]interface{}:
		subject, _ = rec["subject"].(string)
		predicate, _ = rec["predicate"].(string)
		value, _ = rec["value"].(string)
	case []string:
		if len(rec) < 3 {
			return nil, fmt.Errorf("expected at least 3 TSV columns, got %d", len(rec))
		}
		subject, predicate, value = rec[0], rec[1], rec[2]
	default:
		return nil, fmt.Errorf("unsupported record type %T", record)
	}
	if subject == "" || predicate == "" {
		return nil, fmt.Errorf("record missing subject or predicate")
	}
	return []model.Triple{{
		Subject:   subject,
		Predicate: predicate,
		Object:    model.NewString(value),
		Timestamp: uint64(time.Now().UnixMilli()),
		TxID:      txID,
	}}, nil
}
