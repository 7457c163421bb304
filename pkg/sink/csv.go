package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/Sternrassler/census-etl/pkg/census"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// CSVSink writes one <group>.csv file per table into a directory.
type CSVSink struct {
	dir    string
	logger zerolog.Logger
}

// NewCSVSink creates dir if needed.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	return &CSVSink{
		dir:    dir,
		logger: log.With().Str("component", "csv-sink").Logger(),
	}, nil
}

// Path returns the file a group is written to.
func (s *CSVSink) Path(group string) string {
	return filepath.Join(s.dir, unsafeFileChars.ReplaceAllString(group, "_")+".csv")
}

// Write writes the header row and every row of table. The file is written
// under a temporary name and renamed, so readers never see a partial file.
func (s *CSVSink) Write(ctx context.Context, table *census.Table) (err error) {
	defer func() { observe(KindCSV, table, err) }()

	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.Path(table.Group)
	tmp, err := os.CreateTemp(s.dir, ".tmp-*.csv")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(table.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	if err := w.WriteAll(table.Rows); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename to %s: %w", path, err)
	}

	s.logger.Info().
		Str("group", table.Group).
		Str("path", path).
		Int("rows", table.Len()).
		Msg("Table written")
	return nil
}

// Close is a no-op; every Write closes its own file.
func (s *CSVSink) Close() error {
	return nil
}
