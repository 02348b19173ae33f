// Package telemetry installs the process-wide OpenTelemetry MeterProvider
// and exposes its current readings as JSON for the control server.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Provider owns an SDK MeterProvider read on demand.
type Provider struct {
	mp     *sdkmetric.MeterProvider
	reader *sdkmetric.ManualReader
	logger *slog.Logger
}

// Setup installs an SDK MeterProvider as the global provider. When enabled
// is false a noop provider is installed instead and Setup returns nil.
func Setup(enabled bool, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "telemetry")
	if !enabled {
		otel.SetMeterProvider(noop.NewMeterProvider())
		logger.Debug("metrics disabled")
		return nil
	}
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(mp)
	logger.Info("metrics enabled")
	return &Provider{mp: mp, reader: reader, logger: logger}
}

// MeterProvider returns the SDK provider.
func (p *Provider) MeterProvider() metric.MeterProvider {
	return p.mp
}

// Point is one data point of a sum or gauge.
type Point struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
	Value      float64           `json:"value"`
}

// Snapshot collects the current value of every int64 and float64 sum and
// gauge, sorted by name.
func (p *Provider) Snapshot(ctx context.Context) ([]Point, error) {
	var rm metricdata.ResourceMetrics
	if err := p.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("collecting metrics: %w", err)
	}
	var points []Point
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, newPoint(m.Name, dp.Attributes.ToSlice(), float64(dp.Value)))
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, newPoint(m.Name, dp.Attributes.ToSlice(), dp.Value))
				}
			case metricdata.Gauge[int64]:
				for _, dp := range data.DataPoints {
					points = append(points, newPoint(m.Name, dp.Attributes.ToSlice(), float64(dp.Value)))
				}
			case metricdata.Gauge[float64]:
				for _, dp := range data.DataPoints {
					points = append(points, newPoint(m.Name, dp.Attributes.ToSlice(), dp.Value))
				}
			}
		}
	}
	sort.SliceStable(points, func(i, j int) bool { return points[i].Name < points[j].Name })
	return points, nil
}

// Handler serves Snapshot as a JSON array.
func (p *Provider) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		points, err := p.Snapshot(r.Context())
		if err != nil {
			p.logger.Warn("metrics snapshot failed", "error", err)
			http.Error(w, "metrics unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(points)
	})
}

// Shutdown flushes and stops the provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	return p.mp.Shutdown(ctx)
}
