package activity

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.uber.org/zap/zaptest"

	"github.com/canopy-network/celltowers/pkg/dataset"
	celltowersdb "github.com/canopy-network/celltowers/pkg/db/celltowers"
	"github.com/canopy-network/celltowers/pkg/db/models/celltowers"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
	"github.com/canopy-network/celltowers/pkg/redis"
)

func newTestContext(t *testing.T, store *fakeStore) *Context {
	t.Helper()
	c := &Context{
		Logger: zaptest.NewLogger(t),
		Store:  store,
		Locker: redis.NewLocalLock(),
		Settings: Settings{
			DatasetURL:   "http://example.invalid/cell_towers.csv.xz",
			StagingDir:   t.TempDir(),
			BatchSize:    100,
			Budget:       dataset.DefaultErrorBudget,
			PartitionKey: celltowersdb.DefaultPartitionKey,
			MartRule:     celltowersdb.DefaultMartRule,
			LockTTL:      time.Hour,
		},
	}
	t.Cleanup(c.Close)
	return c
}

func newActivityEnv(t *testing.T) *testsuite.TestActivityEnvironment {
	t.Helper()
	suite := testsuite.WorkflowTestSuite{}
	return suite.NewTestActivityEnvironment()
}

func requireErrorType(t *testing.T, err error, want string) {
	t.Helper()
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr), "expected application error, got %T: %v", err, err)
	assert.Equal(t, want, appErr.Type())
	assert.True(t, appErr.NonRetryable())
}

func writeCSV(t *testing.T, dir string, rows int, malformed map[int]bool) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("radio,mcc,net,area,cell,unit,lon,lat,range,samples,changeable,created,updated,averageSignal\n")
	for i := 0; i < rows; i++ {
		if malformed[i] {
			b.WriteString("GSM,250,1,1,,0,0,0,0,0,0,0,0,0\n")
			continue
		}
		fmt.Fprintf(&b, "GSM,250,1,%d,%d,0,37.6,55.7,100,1,1,1459692342,1459692342,0\n", i%10, i+1)
	}
	path := dataset.CSVPath(dir)
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func TestLoadRawWithinBudget(t *testing.T) {
	store := newFakeStore()
	ac := newTestContext(t, store)
	path := writeCSV(t, ac.Settings.StagingDir, 1000, map[int]bool{3: true, 400: true, 998: true})

	env := newActivityEnv(t)
	env.RegisterActivity(ac.LoadRaw)
	val, err := env.ExecuteActivity(ac.LoadRaw, types.LoadInput{Period: "2024-01", CSVPath: path})
	require.NoError(t, err)

	var out types.LoadOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, uint64(997), out.RowsLoaded)
	assert.Equal(t, uint64(3), out.RowsRejected)
	assert.Len(t, store.raw, 997)
	assert.Equal(t, 10, store.batches)
}

func TestLoadRawDefaultsToStagingPath(t *testing.T) {
	store := newFakeStore()
	ac := newTestContext(t, store)
	writeCSV(t, ac.Settings.StagingDir, 10, nil)

	env := newActivityEnv(t)
	env.RegisterActivity(ac.LoadRaw)
	_, err := env.ExecuteActivity(ac.LoadRaw, types.LoadInput{Period: "2024-01"})
	require.NoError(t, err)
	assert.Len(t, store.raw, 10)
}

func TestLoadRawBudgetExceeded(t *testing.T) {
	malformed := map[int]bool{}
	for i := 0; i < 1000; i += 3 {
		malformed[i] = true
	}
	store := newFakeStore()
	ac := newTestContext(t, store)
	path := writeCSV(t, ac.Settings.StagingDir, 1000, malformed)

	env := newActivityEnv(t)
	env.RegisterActivity(ac.LoadRaw)
	_, err := env.ExecuteActivity(ac.LoadRaw, types.LoadInput{Period: "2024-01", CSVPath: path})
	requireErrorType(t, err, types.ErrTypeLoadBudgetExceeded)
}

func TestLoadRawInsertFailure(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("code: 60, message: table does not exist")
	ac := newTestContext(t, store)
	path := writeCSV(t, ac.Settings.StagingDir, 10, nil)

	env := newActivityEnv(t)
	env.RegisterActivity(ac.LoadRaw)
	_, err := env.ExecuteActivity(ac.LoadRaw, types.LoadInput{CSVPath: path})
	requireErrorType(t, err, types.ErrTypeSQLFailed)
}

func TestFetchClassifiesErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "network", err: fmt.Errorf("%w: GET: connection refused", dataset.ErrFetch), want: types.ErrTypeFetchFailed},
		{name: "corrupt", err: fmt.Errorf("%w: bad header", dataset.ErrDecompress), want: types.ErrTypeDecompressFailed},
		{name: "disk", err: errors.New("create staging dir: permission denied"), want: types.ErrTypeFetchFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ac := newTestContext(t, newFakeStore())
			ac.Fetcher = &fakeFetcher{err: tt.err}

			env := newActivityEnv(t)
			env.RegisterActivity(ac.Fetch)
			_, err := env.ExecuteActivity(ac.Fetch, types.PeriodInput{Period: "2024-01"})
			requireErrorType(t, err, tt.want)
		})
	}
}

func TestFetchReturnsPaths(t *testing.T) {
	ac := newTestContext(t, newFakeStore())
	ac.Fetcher = &fakeFetcher{res: &dataset.FetchResult{CSVPath: "/data/cell_towers.csv", CompressedBytes: 10, CSVBytes: 40}}

	env := newActivityEnv(t)
	env.RegisterActivity(ac.Fetch)
	val, err := env.ExecuteActivity(ac.Fetch, types.PeriodInput{Period: "2024-01"})
	require.NoError(t, err)

	var out types.FetchOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, "/data/cell_towers.csv", out.CSVPath)
	assert.Equal(t, int64(40), out.CSVBytes)
}

func TestRunLockRejectsConcurrentRun(t *testing.T) {
	ac := newTestContext(t, newFakeStore())

	env := newActivityEnv(t)
	env.RegisterActivity(ac.AcquireRunLock)
	env.RegisterActivity(ac.ReleaseRunLock)

	val, err := env.ExecuteActivity(ac.AcquireRunLock, types.PeriodInput{Period: "2024-01"})
	require.NoError(t, err)
	var lock types.LockOutput
	require.NoError(t, val.Get(&lock))
	assert.NotZero(t, lock.Token)

	_, err = env.ExecuteActivity(ac.AcquireRunLock, types.PeriodInput{Period: "2024-01"})
	requireErrorType(t, err, types.ErrTypeRunLocked)

	_, err = env.ExecuteActivity(ac.ReleaseRunLock, types.LockInput{Period: "2024-01", Token: lock.Token})
	require.NoError(t, err)
	_, err = env.ExecuteActivity(ac.AcquireRunLock, types.PeriodInput{Period: "2024-01"})
	require.NoError(t, err)
}

func TestLoadCheckpoint(t *testing.T) {
	t.Run("never ran", func(t *testing.T) {
		ac := newTestContext(t, newFakeStore())
		env := newActivityEnv(t)
		env.RegisterActivity(ac.LoadCheckpoint)

		val, err := env.ExecuteActivity(ac.LoadCheckpoint, types.PeriodInput{Period: "2024-01"})
		require.NoError(t, err)
		var cp types.Checkpoint
		require.NoError(t, val.Get(&cp))
		assert.Equal(t, types.StateInit, cp.State)
	})

	t.Run("fetched without csv restarts", func(t *testing.T) {
		store := newFakeStore()
		store.runs["2024-01"] = &celltowers.Run{Period: "2024-01", State: "FETCHED", FencingToken: 3}
		ac := newTestContext(t, store)
		env := newActivityEnv(t)
		env.RegisterActivity(ac.LoadCheckpoint)

		val, err := env.ExecuteActivity(ac.LoadCheckpoint, types.PeriodInput{Period: "2024-01"})
		require.NoError(t, err)
		var cp types.Checkpoint
		require.NoError(t, val.Get(&cp))
		assert.Equal(t, types.StateInit, cp.State)
	})

	t.Run("fetched with csv resumes", func(t *testing.T) {
		store := newFakeStore()
		store.runs["2024-01"] = &celltowers.Run{Period: "2024-01", State: "FETCHED", FencingToken: 3}
		ac := newTestContext(t, store)
		writeCSV(t, ac.Settings.StagingDir, 1, nil)
		env := newActivityEnv(t)
		env.RegisterActivity(ac.LoadCheckpoint)

		val, err := env.ExecuteActivity(ac.LoadCheckpoint, types.PeriodInput{Period: "2024-01"})
		require.NoError(t, err)
		var cp types.Checkpoint
		require.NoError(t, val.Get(&cp))
		assert.Equal(t, types.StateFetched, cp.State)
		assert.Equal(t, uint64(3), cp.FencingToken)
	})

	t.Run("unknown state", func(t *testing.T) {
		store := newFakeStore()
		store.runs["2024-01"] = &celltowers.Run{Period: "2024-01", State: "BOGUS"}
		ac := newTestContext(t, store)
		env := newActivityEnv(t)
		env.RegisterActivity(ac.LoadCheckpoint)

		_, err := env.ExecuteActivity(ac.LoadCheckpoint, types.PeriodInput{Period: "2024-01"})
		require.Error(t, err)
	})
}

func TestSaveCheckpointFencing(t *testing.T) {
	store := newFakeStore()
	ac := newTestContext(t, store)
	env := newActivityEnv(t)
	env.RegisterActivity(ac.SaveCheckpoint)

	_, err := env.ExecuteActivity(ac.SaveCheckpoint, types.Checkpoint{Period: "2024-01", State: types.StateFetched, FencingToken: 5})
	require.NoError(t, err)

	_, err = env.ExecuteActivity(ac.SaveCheckpoint, types.Checkpoint{Period: "2024-01", State: types.StateRawLoaded, FencingToken: 4})
	requireErrorType(t, err, types.ErrTypeRunLocked)

	_, err = env.ExecuteActivity(ac.SaveCheckpoint, types.Checkpoint{Period: "2024-01", State: types.StateRawLoaded, FencingToken: 5, RowsLoaded: 997})
	require.NoError(t, err)

	assert.Equal(t, []string{"FETCHED", "RAW_LOADED"}, store.savedStates)
	assert.Equal(t, uint64(997), store.runs["2024-01"].RowsLoaded)
}

func TestTableStepsUseSettings(t *testing.T) {
	store := newFakeStore()
	store.stagedRows = 42
	ac := newTestContext(t, store)
	ac.Settings.PartitionKey = celltowersdb.AreaPartitionKey

	env := newActivityEnv(t)
	env.RegisterActivity(ac.InitSourceTable)
	env.RegisterActivity(ac.InitStagingTable)
	env.RegisterActivity(ac.Deduplicate)
	env.RegisterActivity(ac.PublishMart)

	_, err := env.ExecuteActivity(ac.InitSourceTable)
	require.NoError(t, err)
	_, err = env.ExecuteActivity(ac.InitStagingTable)
	require.NoError(t, err)

	val, err := env.ExecuteActivity(ac.Deduplicate)
	require.NoError(t, err)
	var out types.DedupOutput
	require.NoError(t, val.Get(&out))
	assert.Equal(t, uint64(42), out.RowsStaged)
	assert.Equal(t, celltowersdb.AreaPartitionKey, store.dedupKey)

	_, err = env.ExecuteActivity(ac.PublishMart)
	require.NoError(t, err)
	require.NotNil(t, store.martRule)
	assert.Equal(t, celltowersdb.DefaultMartRule, *store.martRule)

	assert.Equal(t, 1, store.initSource)
	assert.Equal(t, 1, store.initStaging)
	assert.Zero(t, store.optimized, "staging is only optimized when enabled")
}

func TestDeduplicateOptimizesStaging(t *testing.T) {
	store := newFakeStore()
	store.stagedRows = 7
	ac := newTestContext(t, store)
	ac.Settings.OptimizeStaging = true

	env := newActivityEnv(t)
	env.RegisterActivity(ac.Deduplicate)

	_, err := env.ExecuteActivity(ac.Deduplicate)
	require.NoError(t, err)
	assert.Equal(t, 1, store.optimized)

	store.optimizeErr = errors.New("too many parts")
	_, err = env.ExecuteActivity(ac.Deduplicate)
	requireErrorType(t, err, types.ErrTypeSQLFailed)
}

func TestCollectTableStats(t *testing.T) {
	store := newFakeStore()
	store.raw = make([]*celltowers.CellTower, 5)
	store.stagedRows = 3
	store.areas = []int32{1, 2}
	ac := newTestContext(t, store)

	env := newActivityEnv(t)
	env.RegisterActivity(ac.CollectTableStats)
	val, err := env.ExecuteActivity(ac.CollectTableStats)
	require.NoError(t, err)

	var stats []types.TableStats
	require.NoError(t, val.Get(&stats))
	require.Len(t, stats, 2)

	byTable := map[string]types.TableStats{}
	for _, s := range stats {
		byTable[s.Table] = s
	}
	assert.Equal(t, uint64(5), byTable[celltowers.SourceTableName].Rows)
	assert.Equal(t, uint64(3), byTable[celltowers.StagingTableName].Rows)
	assert.InDelta(t, 4.0, byTable[celltowers.StagingTableName].Compression, 0.001)
}

func TestCollectTableStatsReportsErrors(t *testing.T) {
	store := newFakeStore()
	store.healthErr = errors.New("system.parts unavailable")
	ac := newTestContext(t, store)

	env := newActivityEnv(t)
	env.RegisterActivity(ac.CollectTableStats)
	_, err := env.ExecuteActivity(ac.CollectTableStats)
	requireErrorType(t, err, types.ErrTypeSQLFailed)
}

func TestNotifyPublished(t *testing.T) {
	ac := newTestContext(t, newFakeStore())
	pub := newFakePublisher()
	ac.Publisher = pub

	env := newActivityEnv(t)
	env.RegisterActivity(ac.NotifyPublished)
	_, err := env.ExecuteActivity(ac.NotifyPublished, types.Checkpoint{Period: "2024-01", RowsLoaded: 997, RowsRejected: 3, RowsStaged: 900})
	require.NoError(t, err)

	require.Len(t, pub.published[PublishedChannel], 1)
	event := pub.published[PublishedChannel][0].(types.PublishedEvent)
	assert.Equal(t, "2024-01", event.Period)
	assert.Equal(t, uint64(900), event.Staged)
	assert.Len(t, pub.streamed[EventsStream], 1)
}

func TestNotifyPublishedWithoutRedis(t *testing.T) {
	ac := newTestContext(t, newFakeStore())

	env := newActivityEnv(t)
	env.RegisterActivity(ac.NotifyPublished)
	_, err := env.ExecuteActivity(ac.NotifyPublished, types.Checkpoint{Period: "2024-01"})
	require.NoError(t, err)
}

func TestErrorType(t *testing.T) {
	assert.Equal(t, types.ErrTypeRunLocked, ErrorType(fmt.Errorf("x: %w", redis.ErrLocked), types.ErrTypeSQLFailed))
	assert.Equal(t, types.ErrTypeSQLFailed, ErrorType(errors.New("boom"), types.ErrTypeSQLFailed))
	assert.Equal(t, types.ErrTypeDBConnectFailed, ErrorType(fmt.Errorf("dial: %w", &os.SyscallError{Syscall: "connect", Err: syscall.ECONNREFUSED}), types.ErrTypeSQLFailed))
	assert.Nil(t, failure(nil))
}
