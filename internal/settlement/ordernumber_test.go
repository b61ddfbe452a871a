package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/leduxro-prog/erp-dashboard-sub013/internal/domain"
	"github.com/leduxro-prog/erp-dashboard-sub013/internal/pkg/telemetry"
)

func TestFormatOrderNumber(t *testing.T) {
	day := time.Date(2026, 8, 21, 15, 4, 5, 0, time.UTC)

	require.Equal(t, "LDX-20260821-000001", formatOrderNumber(day, 1))
	require.Equal(t, "LDX-20260821-000042", formatOrderNumber(day, 42))
	require.Equal(t, "LDX-20260821-123456", formatOrderNumber(day, 123456))
}

func TestOrderNumberDayIsUTC(t *testing.T) {
	// 23:30 in UTC-5 is already the next day in UTC.
	loc := time.FixedZone("UTC-5", -5*60*60)
	late := time.Date(2026, 8, 21, 23, 30, 0, 0, loc)

	require.Equal(t, "20260822", orderNumberDay(late))
}

func TestWorkflowCorrelationPrecedence(t *testing.T) {
	ctx := context.Background()

	// An explicit correlation always wins.
	explicit := domain.Correlation{CorrelationID: "corr-explicit", CausationID: "cause-1"}
	got := workflowCorrelation(telemetry.WithCorrelationID(ctx, "corr-ambient"), explicit)
	require.Equal(t, "corr-explicit", got.CorrelationID)
	require.Equal(t, "cause-1", got.CausationID)

	// Otherwise the workflow already on the context continues.
	got = workflowCorrelation(telemetry.WithCorrelationID(ctx, "corr-ambient"), domain.Correlation{})
	require.Equal(t, "corr-ambient", got.CorrelationID)

	// And with neither, a fresh chain starts.
	fresh := workflowCorrelation(ctx, domain.Correlation{})
	require.NotEmpty(t, fresh.CorrelationID)
	require.Empty(t, fresh.CausationID)
}
