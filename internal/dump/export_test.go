package dump

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klauspost/compress/gzip"

	"github.com/rainlanguage/raindex/internal/chain"
	"github.com/rainlanguage/raindex/internal/dbexec"
	"github.com/rainlanguage/raindex/internal/sqlbatch"
)

func newTestDB(t *testing.T, name string) *dbexec.SQLite {
	t.Helper()
	db, err := dbexec.Open("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	batch := sqlbatch.NewBatch().Extend(sqlbatch.BuildCreateTables())
	wrapped, err := batch.IntoTransaction()
	if err != nil {
		t.Fatalf("into transaction: %v", err)
	}
	if err := db.ExecuteBatch(context.Background(), wrapped); err != nil {
		t.Fatalf("create tables: %v", err)
	}
	return db
}

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open dump: %v", err)
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		t.Fatalf("gzip reader: %v", err)
	}
	defer gz.Close()
	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := gz.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			break
		}
	}
	return sb.String()
}

func TestExportDataOnlyReturnsNilWhenNoWatermark(t *testing.T) {
	db := newTestDB(t, "dumpempty")
	target := chain.NewTargetKey(1, common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"))

	meta, err := ExportDataOnly(context.Background(), db, t.TempDir(), target)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if meta != nil {
		t.Fatalf("expected nil metadata for empty database, got %+v", meta)
	}
}

func TestExportDataOnlyWritesOneLinePerRow(t *testing.T) {
	db := newTestDB(t, "dumpfull")
	ctx := context.Background()
	target := chain.NewTargetKey(137, common.HexToAddress("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"))

	seed := sqlbatch.NewBatch().
		Add(sqlbatch.BuildUpsertWatermark(target.ChainID, target.OrderbookAddress, 500, nil, 1000)).
		Add(sqlbatch.BuildUpsertERC20Token(target.ChainID, "0xcccccccccccccccccccccccccccccccccccccccc", "Wrapped Ether", "WETH", 18))
	wrapped, err := seed.IntoTransaction()
	if err != nil {
		t.Fatalf("into transaction: %v", err)
	}
	if err := db.ExecuteBatch(ctx, wrapped); err != nil {
		t.Fatalf("seed: %v", err)
	}

	outRoot := t.TempDir()
	meta, err := ExportDataOnly(ctx, db, outRoot, target)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if meta == nil {
		t.Fatal("expected non-nil metadata")
	}
	if meta.EndBlock != 500 {
		t.Fatalf("expected end block 500, got %d", meta.EndBlock)
	}
	wantPath := filepath.Join(outRoot, "137", "137-0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb.sql.gz")
	if meta.DumpPath != wantPath {
		t.Fatalf("expected dump path %s, got %s", wantPath, meta.DumpPath)
	}

	contents := readGzip(t, meta.DumpPath)
	lines := strings.Split(strings.TrimRight(contents, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 insert lines (watermark + token), got %d: %q", len(lines), contents)
	}
	for _, line := range lines {
		if !strings.HasPrefix(line, "INSERT INTO ") || !strings.HasSuffix(line, ";") {
			t.Fatalf("expected one INSERT statement per line, got %q", line)
		}
	}
	if !strings.Contains(contents, "INSERT INTO erc20_tokens") {
		t.Fatalf("expected erc20_tokens insert, got %q", contents)
	}
	if !strings.Contains(contents, "INSERT INTO target_watermarks") {
		t.Fatalf("expected target_watermarks insert, got %q", contents)
	}
}
