// Package store persists per-search diagnostic rows for offline analysis
// of the benchmark harness.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// SearchRow summarizes one completed search run.
//
// One row per (run, worker); aggregate columns like node counts repeat the
// shared totals so rows stay self-contained.
type SearchRow struct {
	RunID    string `parquet:"run_id,dict"`
	WorkerID int32  `parquet:"worker_id"`

	BoardSize  int32 `parquet:"board_size"`
	BatchSize  int32 `parquet:"batch_size"`
	NumWorkers int32 `parquet:"num_workers"`

	Nodes      int64   `parquet:"nodes"`
	RootVisits float32 `parquet:"root_visits"`
	Iterations int64   `parquet:"iterations"`
	MaxDepth   int32   `parquet:"max_depth"`
	AvgDepth   int32   `parquet:"avg_depth"`
	TBHits     int64   `parquet:"tb_hits"`

	DurationMS int64   `parquet:"duration_ms"`
	NodesPerS  float32 `parquet:"nodes_per_s"`

	BestAction int32   `parquet:"best_action"`
	BestQ      float32 `parquet:"best_q"`
}

// WriteSearchParquet writes rows to outPath. The file is written to a temp
// path and renamed so readers never observe a partial file.
func WriteSearchParquet(outPath string, rows []SearchRow) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	tmpPath := outPath + ".tmp"
	_ = os.Remove(tmpPath)

	if err := parquet.WriteFile(tmpPath, rows,
		parquet.Compression(&zstd.Codec{Level: zstd.SpeedBetterCompression}),
		parquet.KeyValueMetadata("schema", "search_row_v1"),
	); err != nil {
		return fmt.Errorf("write parquet: %w", err)
	}

	if err := os.Rename(tmpPath, outPath); err != nil {
		return fmt.Errorf("rename parquet: %w", err)
	}
	return nil
}

// AppendSearchParquet writes rows as a new timestamped batch file in
// outDir, for long-running benchmark sweeps that accumulate results.
func AppendSearchParquet(outDir string, rows []SearchRow) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("search_%d.parquet", time.Now().UnixNano())
	outPath := filepath.Join(outDir, name)
	if err := WriteSearchParquet(outPath, rows); err != nil {
		return "", err
	}
	return outPath, nil
}

// ReadSearchParquet loads a diagnostics file back, mainly for tooling and
// tests.
func ReadSearchParquet(path string) ([]SearchRow, error) {
	rows, err := parquet.ReadFile[SearchRow](path)
	if err != nil {
		return nil, fmt.Errorf("read parquet: %w", err)
	}
	return rows, nil
}
