package observability

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"rental-manager-backend/internal/config"
	"rental-manager-backend/internal/domain"
	"rental-manager-backend/internal/repository/memory"
	"rental-manager-backend/internal/service"
)

func TestSetup_Disabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), config.TelemetryConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestSetup_RecordsStatusChanges(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	shutdown, err := Setup(ctx, config.TelemetryConfig{Enabled: true, ServiceName: "rental-status-test", SampleRatio: 1}, reader)
	require.NoError(t, err)
	defer func() { _ = shutdown(ctx) }()

	asOf := time.Date(2024, 7, 23, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	id := uuid.New()
	store.PutRental(&domain.RentalTransaction{
		ID:                id,
		TransactionNumber: "RNT-OTEL",
		Lines: []domain.TransactionLine{{
			ID:              uuid.New(),
			TransactionID:   id,
			LineNumber:      1,
			RentalStartDate: asOf.AddDate(0, 0, -3),
			RentalEndDate:   asOf.AddDate(0, 0, -1),
			Quantity:        decimal.NewFromInt(2),
		}},
	})

	svc := service.NewRentalStatusService(store, store, service.RentalStatusOptions{})
	_, err = svc.RecomputeTransaction(ctx, id, asOf, domain.ReasonScheduledUpdate, "test", nil)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "rental_status.changes" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	// one line and one header transition
	assert.Equal(t, int64(2), total)
}

func seedLateRental(store *memory.Store, asOf time.Time) uuid.UUID {
	id := uuid.New()
	store.PutRental(&domain.RentalTransaction{
		ID:                id,
		TransactionNumber: "RNT-" + id.String()[:8],
		Lines: []domain.TransactionLine{{
			ID:              uuid.New(),
			TransactionID:   id,
			LineNumber:      1,
			RentalStartDate: asOf.AddDate(0, 0, -3),
			RentalEndDate:   asOf.AddDate(0, 0, -1),
			Quantity:        decimal.NewFromInt(1),
		}},
	})
	return id
}

func TestSetup_ExportsMetricsOnShutdown(t *testing.T) {
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	defer func() { stdout = prev }()

	ctx := context.Background()
	shutdown, err := Setup(ctx, config.TelemetryConfig{Enabled: true, ServiceName: "rental-status-test", SampleRatio: 1})
	require.NoError(t, err)

	asOf := time.Date(2024, 7, 23, 0, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	id := seedLateRental(store, asOf)
	svc := service.NewRentalStatusService(store, store, service.RentalStatusOptions{})
	_, err = svc.RecomputeTransaction(ctx, id, asOf, domain.ReasonScheduledUpdate, "test", nil)
	require.NoError(t, err)

	require.NoError(t, shutdown(ctx))
	assert.Contains(t, buf.String(), "rental_status.changes")
}

func TestBuildMetricExporter(t *testing.T) {
	ctx := context.Background()

	exp, err := buildMetricExporter(ctx, config.TelemetryConfig{OTLPEndpoint: "collector:4318", Insecure: true})
	require.NoError(t, err)
	assert.IsType(t, &otlpmetrichttp.Exporter{}, exp)
	_ = exp.Shutdown(ctx)

	exp, err = buildMetricExporter(ctx, config.TelemetryConfig{})
	require.NoError(t, err)
	assert.NotNil(t, exp)
}

func TestClampRatio(t *testing.T) {
	assert.Equal(t, 0.0, clampRatio(-1))
	assert.Equal(t, 0.5, clampRatio(0.5))
	assert.Equal(t, 1.0, clampRatio(3))
}
