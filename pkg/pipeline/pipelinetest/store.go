// Package pipelinetest provides in-memory doubles of the pipeline's storage and fetch
// dependencies for tests.
package pipelinetest

import (
	"context"
	"os"
	"sync"

	"github.com/canopy-network/celltowers/pkg/dataset"
	celltowersdb "github.com/canopy-network/celltowers/pkg/db/celltowers"
	"github.com/canopy-network/celltowers/pkg/db/clickhouse"
	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

// CSV is a three row dataset where cell 100 appears twice.
const CSV = "radio,mcc,net,area,cell,unit,lon,lat,range,samples,changeable,created,updated,averageSignal\n" +
	"LTE,250,1,5,100,0,37.6,55.7,100,1,1,1672531200,1672531200,0\n" +
	"LTE,250,1,5,100,0,37.6,55.7,100,1,1,1685577600,1685577600,0\n" +
	"GSM,250,1,6,101,0,37.6,55.7,100,1,1,1685577600,1685577600,0\n"

// Store is a celltowersdb.Store kept in memory. Deduplicate keeps one row per cell/radio.
type Store struct {
	mu sync.Mutex

	Calls []string
	Raw   []*celltowers.CellTower
	Areas []int32
	Runs  map[string]*celltowers.Run
	Saved []celltowers.Run

	// Err, when set, fails the call with the matching name.
	Err map[string]error
}

var _ celltowersdb.Store = (*Store)(nil)

func NewStore() *Store {
	return &Store{Runs: map[string]*celltowers.Run{}, Err: map[string]error{}}
}

func (s *Store) call(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, name)
	return s.Err[name]
}

func (s *Store) Close() error                   { return nil }
func (s *Store) DatabaseName() string           { return "memory" }
func (s *Store) Ping(ctx context.Context) error { return s.call("ping") }

func (s *Store) InitSourceTable(context.Context) error {
	if err := s.call("init_source"); err != nil {
		return err
	}
	s.mu.Lock()
	s.Raw = nil
	s.mu.Unlock()
	return nil
}

func (s *Store) InsertRaw(_ context.Context, rows []*celltowers.CellTower) error {
	if err := s.call("insert_raw"); err != nil {
		return err
	}
	s.mu.Lock()
	s.Raw = append(s.Raw, rows...)
	s.mu.Unlock()
	return nil
}

func (s *Store) InitStagingTable(context.Context) error { return s.call("init_staging") }

func (s *Store) Deduplicate(context.Context, celltowersdb.PartitionKey) (uint64, error) {
	if err := s.call("deduplicate"); err != nil {
		return 0, err
	}
	return s.distinct(), nil
}

func (s *Store) OptimizeStaging(context.Context) error { return s.call("optimize_staging") }

func (s *Store) distinct() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		cell  int64
		radio string
	}
	seen := map[key]struct{}{}
	for _, r := range s.Raw {
		seen[key{r.Cell, r.Radio}] = struct{}{}
	}
	return uint64(len(seen))
}

func (s *Store) PublishMart(context.Context, celltowersdb.MartRule) error {
	return s.call("publish")
}

func (s *Store) CountRaw(context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return uint64(len(s.Raw)), nil
}

func (s *Store) CountStaging(context.Context) (uint64, error) {
	return s.distinct(), nil
}

func (s *Store) MartAreas(context.Context) ([]int32, error) {
	if err := s.call("mart_areas"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32{}, s.Areas...), nil
}

func (s *Store) TableHealth(_ context.Context, table string) (*clickhouse.TableHealthStatus, error) {
	return &clickhouse.TableHealthStatus{Database: "memory", Table: table}, nil
}

func (s *Store) GetRun(_ context.Context, period string) (*celltowers.Run, error) {
	if err := s.call("get_run"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if run, ok := s.Runs[period]; ok {
		cp := *run
		return &cp, nil
	}
	return nil, nil
}

func (s *Store) SaveRun(_ context.Context, run *celltowers.Run) error {
	if err := s.call("save_run"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *run
	s.Runs[run.Period] = &cp
	s.Saved = append(s.Saved, cp)
	return nil
}

// Fetcher writes Body as the decompressed dataset.
type Fetcher struct {
	Body  string
	Err   error
	Calls int
}

func (f *Fetcher) Fetch(_ context.Context, _ string, dir string) (*dataset.FetchResult, error) {
	f.Calls++
	if f.Err != nil {
		return nil, f.Err
	}
	body := f.Body
	if body == "" {
		body = CSV
	}
	path := dataset.CSVPath(dir)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		return nil, err
	}
	return &dataset.FetchResult{CSVPath: path, CSVBytes: int64(len(body))}, nil
}
