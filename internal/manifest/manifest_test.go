package manifest

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

const validYAML = `
schema_version: 1
chains:
  137:
    dump_url: https://dumps.example/137.sql.gz
    dump_timestamp: 2026-01-01T00:00:00Z
    seed_generation: 3
`

func TestParseValidManifest(t *testing.T) {
	m, err := Parse([]byte(validYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	entry, ok := m.Entry(137)
	if !ok {
		t.Fatal("expected entry for chain 137")
	}
	if entry.DumpURL != "https://dumps.example/137.sql.gz" {
		t.Fatalf("unexpected dump url: %s", entry.DumpURL)
	}
	if entry.SeedGeneration != 3 {
		t.Fatalf("unexpected seed generation: %d", entry.SeedGeneration)
	}
	if _, ok := m.Entry(1); ok {
		t.Fatal("expected no entry for chain 1")
	}
}

func TestParseRejectsSchemaVersionMismatch(t *testing.T) {
	_, err := Parse([]byte("schema_version: 2\nchains: {}\n"))
	if err == nil {
		t.Fatal("expected error on schema_version mismatch")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte("schema_version: 1\nchains: {}\nextra_field: true\n"))
	if err == nil {
		t.Fatal("expected error on unknown top-level field")
	}
}

func TestIsStale(t *testing.T) {
	entry := ChainEntry{DumpTimestamp: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	now := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	if !entry.IsStale(5*24*time.Hour, now) {
		t.Fatal("expected stale at 9 days with 5 day max age")
	}
	if entry.IsStale(30*24*time.Hour, now) {
		t.Fatal("expected fresh at 9 days with 30 day max age")
	}
}

type roundTripFunc func(req *http.Request) (*http.Response, error)

func (f roundTripFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func TestFetchParsesBody(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(validYAML)),
		}, nil
	})
	m, err := Fetch(context.Background(), client, "https://manifest.example/manifest.yaml")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if _, ok := m.Entry(137); !ok {
		t.Fatal("expected entry for chain 137")
	}
}

func TestFetchRejectsNonOKStatus(t *testing.T) {
	client := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader("")),
		}, nil
	})
	if _, err := Fetch(context.Background(), client, "https://manifest.example/manifest.yaml"); err == nil {
		t.Fatal("expected error on 404 status")
	}
}
