package activity

import (
	"errors"
	"io"
	"net"
	"syscall"

	"github.com/ClickHouse/clickhouse-go/v2"
	"go.temporal.io/sdk/temporal"

	"github.com/canopy-network/celltowers/pkg/dataset"
	"github.com/canopy-network/celltowers/pkg/pipeline/types"
	"github.com/canopy-network/celltowers/pkg/redis"
)

// ErrorType classifies err for the activity failure. Errors matching no known class get fallback.
func ErrorType(err error, fallback string) string {
	var exception *clickhouse.Exception
	var netErr *net.OpError

	switch {
	case errors.Is(err, dataset.ErrBudgetExceeded):
		return types.ErrTypeLoadBudgetExceeded
	case errors.Is(err, dataset.ErrDecompress):
		return types.ErrTypeDecompressFailed
	case errors.Is(err, dataset.ErrFetch):
		return types.ErrTypeFetchFailed
	case errors.Is(err, redis.ErrLocked):
		return types.ErrTypeRunLocked
	case errors.As(err, &exception):
		return types.ErrTypeSQLFailed
	case errors.As(err, &netErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF):
		return types.ErrTypeDBConnectFailed
	default:
		return fallback
	}
}

// failure wraps err as a non-retryable application error tagged with its type.
// Activities run with a single attempt so that a broken run shows up as failed.
func failure(err error) error {
	return failureOr(err, types.ErrTypeSQLFailed)
}

func failureOr(err error, fallback string) error {
	if err == nil {
		return nil
	}
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return err
	}
	return temporal.NewNonRetryableApplicationError(err.Error(), ErrorType(err, fallback), err)
}

// FailureType returns the type tag of an activity failure, or "" when err carries none.
func FailureType(err error) string {
	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) {
		return appErr.Type()
	}
	return ""
}
