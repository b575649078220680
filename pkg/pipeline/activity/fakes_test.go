package activity

import (
	"context"
	"sync"

	"github.com/canopy-network/celltowers/pkg/dataset"
	celltowersdb "github.com/canopy-network/celltowers/pkg/db/celltowers"
	"github.com/canopy-network/celltowers/pkg/db/clickhouse"
	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
)

type fakeStore struct {
	mu sync.Mutex

	raw         []*celltowers.CellTower
	batches     int
	insertErr   error
	stagedRows  uint64
	optimized   int
	optimizeErr error
	dedupKey    celltowersdb.PartitionKey
	martRule    *celltowersdb.MartRule
	initSource  int
	initStaging int
	areas       []int32
	runs        map[string]*celltowers.Run
	savedStates []string
	getRunErr   error
	healthErr   error
}

var _ celltowersdb.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{runs: map[string]*celltowers.Run{}}
}

func (f *fakeStore) Close() error                   { return nil }
func (f *fakeStore) DatabaseName() string           { return "fake" }
func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) InitSourceTable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initSource++
	f.raw = nil
	return nil
}

func (f *fakeStore) InsertRaw(_ context.Context, rows []*celltowers.CellTower) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.batches++
	f.raw = append(f.raw, rows...)
	return nil
}

func (f *fakeStore) InitStagingTable(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initStaging++
	return nil
}

func (f *fakeStore) Deduplicate(_ context.Context, key celltowersdb.PartitionKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dedupKey = key
	return f.stagedRows, nil
}

func (f *fakeStore) OptimizeStaging(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.optimized++
	return f.optimizeErr
}

func (f *fakeStore) PublishMart(_ context.Context, rule celltowersdb.MartRule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.martRule = &rule
	return nil
}

func (f *fakeStore) CountRaw(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.raw)), nil
}

func (f *fakeStore) CountStaging(context.Context) (uint64, error) {
	return f.stagedRows, nil
}

func (f *fakeStore) MartAreas(context.Context) ([]int32, error) {
	return f.areas, nil
}

func (f *fakeStore) TableHealth(_ context.Context, table string) (*clickhouse.TableHealthStatus, error) {
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &clickhouse.TableHealthStatus{Table: table, CompressedBytes: 100, UncompressedBytes: 400, ActiveParts: 2}, nil
}

func (f *fakeStore) GetRun(_ context.Context, period string) (*celltowers.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getRunErr != nil {
		return nil, f.getRunErr
	}
	run, ok := f.runs[period]
	if !ok {
		return nil, nil
	}
	cp := *run
	return &cp, nil
}

func (f *fakeStore) SaveRun(_ context.Context, run *celltowers.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *run
	f.runs[run.Period] = &cp
	f.savedStates = append(f.savedStates, run.State)
	return nil
}

type fakeFetcher struct {
	res *dataset.FetchResult
	err error
}

func (f *fakeFetcher) Fetch(context.Context, string, string) (*dataset.FetchResult, error) {
	return f.res, f.err
}

type fakePublisher struct {
	mu        sync.Mutex
	published map[string][]any
	streamed  map[string][]any
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{published: map[string][]any{}, streamed: map[string][]any{}}
}

func (p *fakePublisher) Publish(_ context.Context, channel string, payload any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published[channel] = append(p.published[channel], payload)
}

func (p *fakePublisher) XAdd(_ context.Context, stream string, payload any) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streamed[stream] = append(p.streamed[stream], payload)
	return "1-0"
}
