// Package manifest parses the orderbook manifest: a small YAML document,
// served over HTTPS, that tells a runner where to find a seed dump for each
// chain it tracks.
package manifest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"gopkg.in/yaml.v3"
)

// SupportedSchemaVersion is the only schema_version this parser accepts.
// A manifest declaring any other version is a hard parse error, never a
// best-effort fallback.
const SupportedSchemaVersion = 1

// ErrSchemaVersionMismatch is returned when a manifest's schema_version
// does not equal SupportedSchemaVersion.
var ErrSchemaVersionMismatch = errors.New("manifest: unsupported schema_version")

// ChainEntry describes the dump available for one chain.
type ChainEntry struct {
	DumpURL        string    `yaml:"dump_url"`
	DumpTimestamp  time.Time `yaml:"dump_timestamp"`
	SeedGeneration uint32    `yaml:"seed_generation"`
}

// IsStale reports whether this entry's dump is older than maxAge relative
// to now.
func (e ChainEntry) IsStale(maxAge time.Duration, now time.Time) bool {
	return now.Sub(e.DumpTimestamp) > maxAge
}

// Manifest is the parsed document: a schema version and one entry per
// chain ID.
type Manifest struct {
	SchemaVersion int                  `yaml:"schema_version"`
	Chains        map[uint32]ChainEntry `yaml:"chains"`
}

// Entry looks up the manifest entry for chainID, reporting ok=false when
// the manifest has nothing for that chain.
func (m Manifest) Entry(chainID uint32) (ChainEntry, bool) {
	entry, ok := m.Chains[chainID]
	return entry, ok
}

// Parse decodes raw YAML bytes with strict field checks (an unknown key is
// a parse error, not silently ignored) and rejects any schema_version other
// than SupportedSchemaVersion.
func Parse(data []byte) (Manifest, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var m Manifest
	if err := dec.Decode(&m); err != nil {
		return Manifest{}, fmt.Errorf("manifest: decode: %w", err)
	}
	if m.SchemaVersion != SupportedSchemaVersion {
		return Manifest{}, fmt.Errorf("%w: got %d, want %d", ErrSchemaVersionMismatch, m.SchemaVersion, SupportedSchemaVersion)
	}
	return m, nil
}

// HTTPClient is the minimal transport the fetcher needs; *http.Client
// satisfies it directly.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Fetch downloads and parses the manifest at url.
func Fetch(ctx context.Context, client HTTPClient, url string) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: build request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Manifest{}, fmt.Errorf("manifest: fetch %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest: read body: %w", err)
	}
	return Parse(body)
}
