package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

// scriptedDoer replays a fixed sequence of responses (or errors),
// regardless of the request, for exercising retry/backoff and range
// bookkeeping without a real network.
type scriptedDoer struct {
	responses []scriptedResponse
	call      int
	requests  []*http.Request
}

type scriptedResponse struct {
	status int
	body   string
	header http.Header
	err    error
}

func (d *scriptedDoer) Do(req *http.Request) (*http.Response, error) {
	d.requests = append(d.requests, req)
	if d.call >= len(d.responses) {
		return nil, fmt.Errorf("scriptedDoer: no more responses scripted (call %d)", d.call)
	}
	r := d.responses[d.call]
	d.call++
	if r.err != nil {
		return nil, r.err
	}
	h := r.header
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{
		StatusCode: r.status,
		Header:     h,
		Body:       io.NopCloser(strings.NewReader(r.body)),
	}, nil
}

func fastConfig() Config {
	return Config{WindowSize: 8, RetryBaseDelay: time.Millisecond, MaxAttempts: 3}
}

func TestGetTotalSizeFromContentRange(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusPartialContent, body: "a", header: http.Header{"Content-Range": []string{"bytes 0-0/12345"}}},
	}}
	f := New(doer, fastConfig())
	total, err := f.GetTotalSize(context.Background(), "https://example.com/data.ndjson")
	if err != nil {
		t.Fatalf("GetTotalSize failed: %v", err)
	}
	if total != 12345 {
		t.Errorf("got %d, want 12345", total)
	}
}

func TestGetTotalSizeFallsBackToContentLength(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusOK, body: "hello world", header: http.Header{"Content-Length": []string{"11"}}},
	}}
	f := New(doer, fastConfig())
	total, err := f.GetTotalSize(context.Background(), "https://example.com/data.ndjson")
	if err != nil {
		t.Fatalf("GetTotalSize failed: %v", err)
	}
	if total != 11 {
		t.Errorf("got %d, want 11", total)
	}
}

func TestFetchChunksIteratesWindowsUntilTotalSizeReached(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusPartialContent, body: "12345678", header: http.Header{"Content-Range": []string{"bytes 0-7/16"}}},
		{status: http.StatusPartialContent, body: "abcdefgh", header: http.Header{"Content-Range": []string{"bytes 8-15/16"}}},
	}}
	f := New(doer, fastConfig())

	var got []string
	err := f.FetchChunks(context.Background(), "https://example.com/data.ndjson", 0, func(data []byte, offset int64) error {
		got = append(got, fmt.Sprintf("%d:%s", offset, data))
		return nil
	})
	if err != nil {
		t.Fatalf("FetchChunks failed: %v", err)
	}
	want := []string{"0:12345678", "8:abcdefgh"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestFetchChunksRetriesTransientFailures(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusTooManyRequests, body: ""},
		{status: http.StatusPartialContent, body: "ok bytes", header: http.Header{"Content-Range": []string{"bytes 0-7/8"}}},
	}}
	f := New(doer, fastConfig())

	var got []byte
	err := f.FetchChunks(context.Background(), "https://example.com/data.ndjson", 0, func(data []byte, offset int64) error {
		got = append(got, data...)
		return nil
	})
	if err != nil {
		t.Fatalf("FetchChunks failed: %v", err)
	}
	if string(got) != "ok bytes" {
		t.Errorf("got %q, want %q", got, "ok bytes")
	}
	if f.Stats().Retries != 1 {
		t.Errorf("Stats().Retries = %d, want 1", f.Stats().Retries)
	}
}

func TestFetchChunksFailsFastOnNonRetryableStatus(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusForbidden, body: "nope"},
	}}
	f := New(doer, fastConfig())

	err := f.FetchChunks(context.Background(), "https://example.com/data.ndjson", 0, func(data []byte, offset int64) error {
		t.Fatal("callback should not run for a non-retryable status")
		return nil
	})
	if err == nil {
		t.Fatal("expected an error for a 403 response")
	}
	if len(doer.requests) != 1 {
		t.Errorf("expected exactly 1 request (no retry), got %d", len(doer.requests))
	}
}

func TestFetchChunksGivesUpAfterMaxAttempts(t *testing.T) {
	doer := &scriptedDoer{responses: []scriptedResponse{
		{status: http.StatusInternalServerError},
		{status: http.StatusInternalServerError},
		{status: http.StatusInternalServerError},
	}}
	f := New(doer, fastConfig())

	err := f.FetchChunks(context.Background(), "https://example.com/data.ndjson", 0, func(data []byte, offset int64) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected an error after exhausting retries")
	}
	if len(doer.requests) != 3 {
		t.Errorf("expected exactly MaxAttempts=3 requests, got %d", len(doer.requests))
	}
}
