package runner

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/celltowers/pkg/dataset"
	celltowersdb "github.com/canopy-network/celltowers/pkg/db/celltowers"
	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
	"github.com/canopy-network/celltowers/pkg/pipeline/activity"
	"github.com/canopy-network/celltowers/pkg/pipeline/pipelinetest"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
	"github.com/canopy-network/celltowers/pkg/redis"
)

type fixture struct {
	runner  *Runner
	store   *pipelinetest.Store
	fetcher *pipelinetest.Fetcher
	lock    *redis.LocalLock
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   pipelinetest.NewStore(),
		fetcher: &pipelinetest.Fetcher{},
		lock:    redis.NewLocalLock(),
		dir:     t.TempDir(),
	}
	ac := &activity.Context{
		Logger:  zaptest.NewLogger(t),
		Store:   f.store,
		Locker:  f.lock,
		Fetcher: f.fetcher,
		Settings: activity.Settings{
			StagingDir:   f.dir,
			BatchSize:    2,
			Budget:       dataset.DefaultErrorBudget,
			PartitionKey: celltowersdb.DefaultPartitionKey,
			MartRule:     celltowersdb.DefaultMartRule,
		},
	}
	t.Cleanup(ac.Close)
	f.runner = New(ac)
	f.runner.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return f
}

func (f *fixture) savedStates() []string {
	states := make([]string, 0, len(f.store.Saved))
	for _, run := range f.store.Saved {
		states = append(states, run.State)
	}
	return states
}

func TestRunFullPipeline(t *testing.T) {
	f := newFixture(t)

	res, err := f.runner.Run(context.Background(), types.RunInput{})
	require.NoError(t, err)

	assert.Equal(t, "2024-03", res.Period)
	assert.Equal(t, types.StatePublished, res.State)
	assert.False(t, res.Skipped)
	assert.Equal(t, uint64(3), res.RowsLoaded)
	assert.Equal(t, uint64(2), res.RowsStaged)
	assert.Len(t, res.Tables, 2)
	assert.Equal(t, []string{"FETCHED", "RAW_LOADED", "STAGED", "PUBLISHED"}, f.savedStates())

	run := f.store.Runs["2024-03"]
	require.NotNil(t, run)
	assert.Empty(t, run.Error)
	assert.NotZero(t, run.FencingToken)
}

func TestRunSkipsPublishedPeriod(t *testing.T) {
	f := newFixture(t)
	f.store.Runs["2024-03"] = &celltowers.Run{Period: "2024-03", State: "PUBLISHED", RowsLoaded: 10}

	res, err := f.runner.Run(context.Background(), types.RunInput{Period: "2024-03"})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, uint64(10), res.RowsLoaded)
	assert.Zero(t, f.fetcher.Calls)
	assert.Empty(t, f.store.Saved)
}

func TestRunForceRepublishes(t *testing.T) {
	f := newFixture(t)
	f.store.Runs["2024-03"] = &celltowers.Run{Period: "2024-03", State: "PUBLISHED"}

	res, err := f.runner.Run(context.Background(), types.RunInput{Period: "2024-03", Force: true})
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 1, f.fetcher.Calls)
	assert.Equal(t, []string{"FETCHED", "RAW_LOADED", "STAGED", "PUBLISHED"}, f.savedStates())
}

func TestRunResumesFromFetched(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.WriteFile(dataset.CSVPath(f.dir), []byte(pipelinetest.CSV), 0o644))
	f.store.Runs["2024-03"] = &celltowers.Run{Period: "2024-03", State: "FETCHED", FencingToken: 0}

	res, err := f.runner.Run(context.Background(), types.RunInput{Period: "2024-03"})
	require.NoError(t, err)
	assert.Equal(t, types.StatePublished, res.State)
	assert.Zero(t, f.fetcher.Calls)
	assert.Equal(t, uint64(3), res.RowsLoaded)
	assert.Equal(t, []string{"RAW_LOADED", "STAGED", "PUBLISHED"}, f.savedStates())
}

func TestRunRecordsFailure(t *testing.T) {
	f := newFixture(t)
	f.store.Err["deduplicate"] = errors.New("table is read only")

	_, err := f.runner.Run(context.Background(), types.RunInput{Period: "2024-03"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTypeSQLFailed, activity.FailureType(err))

	run := f.store.Runs["2024-03"]
	require.NotNil(t, run)
	assert.Equal(t, "RAW_LOADED", run.State)
	assert.Contains(t, run.Error, "deduplicate: ")

	// the lock was released, a second run resumes from RAW_LOADED
	delete(f.store.Err, "deduplicate")
	res, err := f.runner.Run(context.Background(), types.RunInput{Period: "2024-03"})
	require.NoError(t, err)
	assert.Equal(t, types.StatePublished, res.State)
	assert.Equal(t, 1, f.fetcher.Calls)
}

func TestRunFailsWhenLocked(t *testing.T) {
	f := newFixture(t)
	_, err := f.lock.Acquire(context.Background(), "2024-03", time.Hour)
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), types.RunInput{Period: "2024-03"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTypeRunLocked, activity.FailureType(err))
	assert.Empty(t, f.store.Saved)
}

func TestRunFailsWhileOtherPeriodHoldsTables(t *testing.T) {
	f := newFixture(t)
	token, err := f.lock.Acquire(context.Background(), "2024-02", time.Hour)
	require.NoError(t, err)

	_, err = f.runner.Run(context.Background(), types.RunInput{Period: "2024-01", Force: true})
	require.Error(t, err)
	assert.Equal(t, types.ErrTypeRunLocked, activity.FailureType(err))
	assert.Empty(t, f.store.Calls)
	assert.Zero(t, f.fetcher.Calls)

	require.NoError(t, f.lock.Release(context.Background(), "2024-02", token))
	res, err := f.runner.Run(context.Background(), types.RunInput{Period: "2024-01"})
	require.NoError(t, err)
	assert.Equal(t, types.StatePublished, res.State)
}

func TestRunFetchFailure(t *testing.T) {
	f := newFixture(t)
	f.fetcher.Err = dataset.ErrFetch

	_, err := f.runner.Run(context.Background(), types.RunInput{Period: "2024-03"})
	require.Error(t, err)
	assert.Equal(t, types.ErrTypeFetchFailed, activity.FailureType(err))
	assert.Equal(t, "INIT", f.store.Runs["2024-03"].State)
}
