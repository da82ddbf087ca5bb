package testutil

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
)

// Row is the schema of generated parquet fixtures.
type Row struct {
	ID    int64   `parquet:"id"`
	Key   string  `parquet:"key"`
	Value float64 `parquet:"value"`
	Note  *string `parquet:"note,optional"`
}

// WriteParquet writes rows to path, starting a new row group every
// rowsPerGroup rows (all rows in one group if rowsPerGroup <= 0).
func WriteParquet(path string, rows []Row, rowsPerGroup int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}

	w := parquet.NewGenericWriter[Row](f)

	if rowsPerGroup <= 0 {
		rowsPerGroup = len(rows)
	}
	for start := 0; start < len(rows); start += rowsPerGroup {
		end := min(start+rowsPerGroup, len(rows))
		if _, err := w.Write(rows[start:end]); err != nil {
			_ = f.Close()
			return fmt.Errorf("write rows: %w", err)
		}
		if err := w.Flush(); err != nil {
			_ = f.Close()
			return fmt.Errorf("flush row group: %w", err)
		}
	}

	if err := w.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("close writer: %w", err)
	}
	return f.Close()
}

// Dataset writes files parquet files of rowsPerFile rows each into dir and
// returns the rows in file order.
func Dataset(dir string, rng *RNG, files, rowsPerFile, rowsPerGroup int) ([]Row, error) {
	var all []Row
	for i := 0; i < files; i++ {
		rows := rng.Rows(rowsPerFile, 16, 7)
		for j := range rows {
			rows[j].ID = int64(i*rowsPerFile + j)
		}
		path := filepath.Join(dir, fmt.Sprintf("part-%05d.parquet", i))
		if err := WriteParquet(path, rows, rowsPerGroup); err != nil {
			return nil, err
		}
		all = append(all, rows...)
	}
	return all, nil
}
