package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jszwec/csvutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// DefaultBatchSize is the number of rows sent per insert.
const DefaultBatchSize = 100_000

// BatchFunc receives decoded rows. The sink owns the slice once called.
type BatchFunc func(ctx context.Context, rows []*celltowers.CellTower) error

// LoadOptions configures Load.
type LoadOptions struct {
	BatchSize int
	Budget    ErrorBudget
	Logger    *zap.Logger
}

// LoadStats summarizes a load.
type LoadStats struct {
	Rows     uint64 `json:"rows"`
	Loaded   uint64 `json:"loaded"`
	Rejected uint64 `json:"rejected"`
	Batches  int    `json:"batches"`
}

// csvRow mirrors the CSV columns. Everything is decoded as text so empty fields can fall back
// to column defaults instead of failing the row.
type csvRow struct {
	Radio         string `csv:"radio"`
	MCC           string `csv:"mcc"`
	Net           string `csv:"net"`
	Area          string `csv:"area"`
	Cell          string `csv:"cell"`
	Unit          string `csv:"unit"`
	Lon           string `csv:"lon"`
	Lat           string `csv:"lat"`
	Range         string `csv:"range"`
	Samples       string `csv:"samples"`
	Changeable    string `csv:"changeable"`
	Created       string `csv:"created"`
	Updated       string `csv:"updated"`
	AverageSignal string `csv:"averageSignal"`
}

// Header is the column order of headerless files.
func Header() []string {
	header := make([]string, 0, len(celltowers.CellTowerColumns))
	for _, col := range celltowers.CellTowerColumns {
		header = append(header, col.Name)
	}
	return header
}

// LoadFile opens path and runs Load over it.
func LoadFile(ctx context.Context, path string, opts LoadOptions, sink BatchFunc) (LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return LoadStats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()
	return Load(ctx, f, opts, sink)
}

// Load decodes CSV rows from r and hands them to sink in batches of opts.BatchSize.
// Malformed rows are skipped until the error budget is exceeded, at which point Load
// returns ErrBudgetExceeded. Batches already handed to sink are not rolled back.
func Load(ctx context.Context, r io.Reader, opts LoadOptions, sink BatchFunc) (LoadStats, error) {
	var stats LoadStats

	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	src := &pushbackReader{r: cr}

	first, err := src.Read()
	if errors.Is(err, io.EOF) {
		logger.Warn("Dataset is empty, nothing to load")
		return stats, nil
	}
	if err != nil && !isRowError(err) {
		return stats, fmt.Errorf("read csv header: %w", err)
	}

	header := Header()
	if err == nil && isHeader(first) {
		header = normalizeHeader(first)
	} else {
		// No header line: the first record is data and goes back to the reader, errors included.
		src.unread(first, err)
	}

	dec, err := csvutil.NewDecoder(src, header...)
	if err != nil {
		return stats, fmt.Errorf("create csv decoder: %w", err)
	}

	batch := make([]*celltowers.CellTower, 0, opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := sink(ctx, batch); err != nil {
			return err
		}
		stats.Loaded += uint64(len(batch))
		stats.Batches++
		logger.Debug("Batch loaded",
			zap.Int("batch", stats.Batches),
			zap.Int("rows", len(batch)),
			zap.Uint64("loaded", stats.Loaded))
		batch = make([]*celltowers.CellTower, 0, opts.BatchSize)
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		var raw csvRow
		err := dec.Decode(&raw)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !isRowError(err) {
			return stats, fmt.Errorf("read csv line %d: %w", stats.Rows+1, err)
		}
		stats.Rows++

		var row *celltowers.CellTower
		if err == nil {
			row, err = raw.parse()
		}
		if err != nil {
			stats.Rejected++
			logger.Debug("Skipping malformed row", zap.Uint64("row", stats.Rows), zap.Error(err))
			if opts.Budget.Exceeded(stats.Rejected, stats.Rows) {
				return stats, fmt.Errorf("%w: %d malformed of %d rows read (limit %d, ratio %.2f): last error: %w",
					ErrBudgetExceeded, stats.Rejected, stats.Rows, opts.Budget.MaxErrors, opts.Budget.MaxRatio, err)
			}
			continue
		}

		batch = append(batch, row)
		if len(batch) >= opts.BatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	if err := flush(); err != nil {
		return stats, err
	}

	if stats.Rows == 0 {
		logger.Warn("Dataset has a header but no rows")
	}
	return stats, nil
}

// isRowError reports whether err only affects the current record.
func isRowError(err error) bool {
	var parseErr *csv.ParseError
	return errors.As(err, &parseErr) || errors.Is(err, csvutil.ErrFieldCount)
}

func isHeader(record []string) bool {
	for _, field := range record {
		if strings.EqualFold(strings.TrimSpace(field), "cell") {
			return true
		}
	}
	return false
}

func normalizeHeader(record []string) []string {
	canonical := make(map[string]string, len(celltowers.CellTowerColumns))
	for _, name := range Header() {
		canonical[strings.ToLower(name)] = name
	}
	out := make([]string, len(record))
	for i, field := range record {
		field = strings.TrimSpace(strings.TrimPrefix(field, "\ufeff"))
		if name, ok := canonical[strings.ToLower(field)]; ok {
			field = name
		}
		out[i] = field
	}
	return out
}

func (r csvRow) parse() (*celltowers.CellTower, error) {
	cellText := strings.TrimSpace(r.Cell)
	if cellText == "" {
		return nil, errors.New("cell is empty")
	}
	cell, err := strconv.ParseInt(cellText, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("cell: %w", err)
	}

	p := fieldParser{}
	row := &celltowers.CellTower{
		Radio:         strings.TrimSpace(r.Radio),
		MCC:           p.int32("mcc", r.MCC),
		Net:           p.int32("net", r.Net),
		Area:          p.int32("area", r.Area),
		Cell:          cell,
		Unit:          p.int32("unit", r.Unit),
		Lon:           p.decimal("lon", r.Lon),
		Lat:           p.decimal("lat", r.Lat),
		Range:         p.int32("range", r.Range),
		Samples:       p.int32("samples", r.Samples),
		Changeable:    p.int32("changeable", r.Changeable),
		Created:       p.timestamp("created", r.Created),
		Updated:       p.timestamp("updated", r.Updated),
		AverageSignal: p.int32("averageSignal", r.AverageSignal),
	}
	if p.err != nil {
		return nil, p.err
	}
	return row, nil
}

// fieldParser keeps the first conversion error so parse can read like a struct literal.
// Empty fields yield the column default.
type fieldParser struct {
	err error
}

func (p *fieldParser) fail(field string, err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%s: %w", field, err)
	}
}

func (p *fieldParser) int32(field, s string) int32 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		p.fail(field, err)
		return 0
	}
	return int32(v)
}

func (p *fieldParser) decimal(field, s string) decimal.Decimal {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero
	}
	v, err := decimal.NewFromString(s)
	if err != nil {
		p.fail(field, err)
		return decimal.Zero
	}
	// Decimal(10, 4) keeps 6 integer digits once rounded.
	v = v.Round(4)
	if v.Abs().GreaterThanOrEqual(decimal.New(1, 6)) {
		p.fail(field, fmt.Errorf("%s out of range for Decimal(10, 4)", s))
		return decimal.Zero
	}
	return v
}

var epoch = time.Unix(0, 0).UTC()

func (p *fieldParser) timestamp(field, s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return epoch
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC()
	}
	t, err := time.Parse(time.DateTime, s)
	if err != nil {
		p.fail(field, err)
		return epoch
	}
	return t
}

// pushbackReader lets Load peek at the first record and hand it to the decoder afterwards.
type pushbackReader struct {
	r       *csv.Reader
	pending bool
	record  []string
	err     error
}

func (p *pushbackReader) unread(record []string, err error) {
	p.pending = true
	p.record = record
	p.err = err
}

func (p *pushbackReader) Read() ([]string, error) {
	if p.pending {
		p.pending = false
		return p.record, p.err
	}
	return p.r.Read()
}
