// Package csvstore persists fetched datasets as chunked CSV files. Rows pass
// through a named action pipeline (dedupe, sort, missing-point handling,
// trailing-row drop, time formatting) before being split into numbered chunk
// files under data/<exchange>/<market_type>/<symbol>/<timeframe>/.
package csvstore

import (
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	apperrors "github.com/Arkalin/ccxt-plus/internal/errors"
	"github.com/Arkalin/ccxt-plus/internal/models"
)

// Action names accepted by the saver pipeline.
const (
	ActionDropDuplicates   = "drop_duplicates"
	ActionSort             = "sort"
	ActionSaveMissingTimes = "save_missing_times"
	ActionFixIntegrity     = "fix_integrity"
	ActionDropLast         = "drop_last"
	ActionTransferTime     = "transfer_time"
)

// DefaultOHLCVActions is the full pipeline used for candle datasets.
var DefaultOHLCVActions = []string{
	ActionDropDuplicates,
	ActionSort,
	ActionSaveMissingTimes,
	ActionFixIntegrity,
	ActionDropLast,
	ActionTransferTime,
}

// DefaultFundingActions is the pipeline used for funding-rate datasets, which
// have no fixed grid to check for holes.
var DefaultFundingActions = []string{
	ActionDropDuplicates,
	ActionSort,
	ActionDropLast,
	ActionTransferTime,
}

// MissingTimesFile is the name of the hole report written next to the chunks.
const MissingTimesFile = "missingtimes.txt"

// Config configures a Saver.
type Config struct {
	// Labels determine the output directory and the task tag in logs.
	Labels models.Labels
	// Actions is the ordered pipeline to apply; unknown names are logged
	// and skipped.
	Actions []string
	// Columns is the CSV header; every row must have len(Columns) fields.
	Columns []string
	// TimeColumn is the index of the timestamp column within Columns.
	TimeColumn int
	// Timeframe is required by the missing-point actions; it defines the
	// expected spacing of the time grid.
	Timeframe string
	// DataPath is the root output directory.
	DataPath string
	// ChunkSize is the number of rows per chunk file.
	ChunkSize int
	// MaxMissingPoints fails the save when more holes than this are found.
	MaxMissingPoints int
	Logger           *slog.Logger
}

// Saver applies the action pipeline to a dataset and writes the chunk files.
type Saver struct {
	cfg     Config
	logger  *slog.Logger
	workDir string

	records []record
	missing []int64
	// missingComputed tracks whether the missing-point scan already ran so
	// fix_integrity can reuse save_missing_times' result.
	missingComputed bool
}

type record struct {
	ts     int64
	fields []string
}

// NewSaver creates a saver and its output directory.
func NewSaver(cfg Config) (*Saver, error) {
	if cfg.ChunkSize <= 0 {
		return nil, apperrors.NewConfiguration("chunk size must be greater than 0")
	}
	if len(cfg.Columns) == 0 {
		return nil, apperrors.NewConfiguration("columns are required")
	}
	if cfg.TimeColumn < 0 || cfg.TimeColumn >= len(cfg.Columns) {
		return nil, apperrors.NewConfiguration("time column %d out of range for %d columns", cfg.TimeColumn, len(cfg.Columns))
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	workDir := cfg.Labels.Dir(cfg.DataPath)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create work folder %s: %w", workDir, err)
	}

	return &Saver{
		cfg:     cfg,
		logger:  logger,
		workDir: workDir,
	}, nil
}

// WorkDir returns the directory chunk files are written into.
func (s *Saver) WorkDir() string {
	return s.workDir
}

// Save runs the action pipeline over the rows and writes the chunk files.
// An empty dataset logs a warning and writes nothing.
func (s *Saver) Save(rows []models.Row) error {
	if err := s.load(rows); err != nil {
		return err
	}

	if len(s.records) == 0 {
		s.logger.Warn("no data available, nothing to save")
		return nil
	}

	for _, name := range s.cfg.Actions {
		action, ok := s.actions()[name]
		if !ok {
			s.logger.Warn("cannot find action", "action", name)
			continue
		}
		if err := action(); err != nil {
			return err
		}
	}

	return s.writeChunks()
}

// load converts rows into working records, validating the field count against
// the configured columns.
func (s *Saver) load(rows []models.Row) error {
	s.records = make([]record, 0, len(rows))
	for _, row := range rows {
		fields := row.Record()
		if len(fields) != len(s.cfg.Columns) {
			return apperrors.NewDataFormat("row length %d does not match expected columns %d", len(fields), len(s.cfg.Columns))
		}
		s.records = append(s.records, record{ts: row.Time(), fields: fields})
	}
	return nil
}

func (s *Saver) actions() map[string]func() error {
	return map[string]func() error{
		ActionDropDuplicates:   s.dropDuplicates,
		ActionSort:             s.sortRecords,
		ActionSaveMissingTimes: s.saveMissingTimes,
		ActionFixIntegrity:     s.fixIntegrity,
		ActionDropLast:         s.dropLast,
		ActionTransferTime:     s.transferTime,
	}
}

// dropDuplicates removes records sharing a timestamp, keeping the first
// occurrence in the current order.
func (s *Saver) dropDuplicates() error {
	seen := make(map[int64]struct{}, len(s.records))
	out := s.records[:0]
	for _, rec := range s.records {
		if _, dup := seen[rec.ts]; dup {
			continue
		}
		seen[rec.ts] = struct{}{}
		out = append(out, rec)
	}
	s.records = out
	return nil
}

func (s *Saver) sortRecords() error {
	sort.SliceStable(s.records, func(i, j int) bool {
		return s.records[i].ts < s.records[j].ts
	})
	return nil
}

func (s *Saver) dropLast() error {
	if len(s.records) > 0 {
		s.records = s.records[:len(s.records)-1]
	}
	return nil
}

// transferTime rewrites the timestamp column from milliseconds to a UTC
// datetime string.
func (s *Saver) transferTime() error {
	for i := range s.records {
		s.records[i].fields[s.cfg.TimeColumn] = models.FormatMillis(s.records[i].ts)
	}
	return nil
}

// computeMissing scans for holes in the expected time grid. Requires sorted,
// deduplicated records and a timeframe.
func (s *Saver) computeMissing() error {
	if s.missingComputed {
		return nil
	}
	if s.cfg.Timeframe == "" {
		return apperrors.NewConfiguration("missing timeframe, cannot compute missing times")
	}

	step, err := models.TimeframeMillis(s.cfg.Timeframe)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeConfiguration, "invalid timeframe for missing time computation", err)
	}

	present := make(map[int64]struct{}, len(s.records))
	for _, rec := range s.records {
		present[rec.ts] = struct{}{}
	}

	minTS := s.records[0].ts
	maxTS := s.records[len(s.records)-1].ts

	var missing []int64
	for ts := minTS; ts <= maxTS; ts += step {
		if _, ok := present[ts]; !ok {
			missing = append(missing, ts)
		}
	}

	if len(missing) > s.cfg.MaxMissingPoints {
		return apperrors.NewTooManyMissing("too many missing time points: %d", len(missing))
	}

	s.missing = missing
	s.missingComputed = true

	if len(missing) == 0 {
		s.logger.Info("all expected time points are present")
	} else {
		s.logger.Info("missing data points detected", "count", len(missing))
	}
	return nil
}

// saveMissingTimes writes the hole report file listing each missing point as
// "<UTC datetime> (<ms>)".
func (s *Saver) saveMissingTimes() error {
	if err := s.computeMissing(); err != nil {
		return err
	}
	if len(s.missing) == 0 {
		return nil
	}

	path := filepath.Join(s.workDir, MissingTimesFile)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	for _, ts := range s.missing {
		if _, err := fmt.Fprintf(f, "%s (%d)\n", models.FormatMillis(ts), ts); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}

	s.logger.Info("missing times saved", "path", path)
	return nil
}

// fixIntegrity fills each missing point by copying the nearest-in-time record
// with its timestamp rewritten, then re-sorts. Requires sorted records.
func (s *Saver) fixIntegrity() error {
	if err := s.computeMissing(); err != nil {
		return err
	}
	if len(s.missing) == 0 {
		return nil
	}

	// Search the original sorted records; fills are appended separately so
	// the binary search stays valid.
	existing := s.records
	for _, ts := range s.missing {
		idx := sort.Search(len(existing), func(i int) bool {
			return existing[i].ts >= ts
		})

		closest := -1
		var closestDist int64
		if idx > 0 {
			closest = idx - 1
			closestDist = ts - existing[idx-1].ts
		}
		if idx < len(existing) {
			if dist := existing[idx].ts - ts; closest < 0 || dist < closestDist {
				closest = idx
			}
		}
		if closest < 0 {
			continue
		}

		fields := make([]string, len(existing[closest].fields))
		copy(fields, existing[closest].fields)
		s.records = append(s.records, record{ts: ts, fields: fields})
	}

	return s.sortRecords()
}

// writeChunks splits records into numbered chunk files with a header row each.
func (s *Saver) writeChunks() error {
	fileCount := 0
	for start := 0; start < len(s.records); start += s.cfg.ChunkSize {
		end := start + s.cfg.ChunkSize
		if end > len(s.records) {
			end = len(s.records)
		}

		path := filepath.Join(s.workDir, fmt.Sprintf("%d.csv", fileCount))
		if err := s.writeChunk(path, s.records[start:end]); err != nil {
			return err
		}
		fileCount++
	}

	s.logger.Info("chunk files created", "files", fileCount, "rows", len(s.records), "dir", s.workDir)
	return nil
}

func (s *Saver) writeChunk(path string, recs []record) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create chunk file %s: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(s.cfg.Columns); err != nil {
		return fmt.Errorf("failed to write header to %s: %w", path, err)
	}
	for _, rec := range recs {
		if err := w.Write(rec.fields); err != nil {
			return fmt.Errorf("failed to write row to %s: %w", path, err)
		}
	}
	w.Flush()
	return w.Error()
}
