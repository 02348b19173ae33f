package transport

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jmcleod/ironwire/transport"

type instruments struct {
	requests  metric.Int64Counter
	retries   metric.Int64Counter
	cacheHits metric.Int64Counter
}

func newInstruments(mp metric.MeterProvider) (*instruments, error) {
	meter := mp.Meter(meterName)
	requests, err := meter.Int64Counter("ironwire.http.requests",
		metric.WithDescription("API requests by method and outcome"))
	if err != nil {
		return nil, err
	}
	retries, err := meter.Int64Counter("ironwire.http.retries",
		metric.WithDescription("Retries of transient failures"))
	if err != nil {
		return nil, err
	}
	cacheHits, err := meter.Int64Counter("ironwire.http.cache_hits",
		metric.WithDescription("GET requests served from the response cache"))
	if err != nil {
		return nil, err
	}
	return &instruments{requests: requests, retries: retries, cacheHits: cacheHits}, nil
}

func (i *instruments) request(ctx context.Context, method, outcome string) {
	i.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("outcome", outcome),
	))
}

func (i *instruments) retry(ctx context.Context, method string) {
	i.retries.Add(ctx, 1, metric.WithAttributes(attribute.String("method", method)))
}

func (i *instruments) cacheHit(ctx context.Context) {
	i.cacheHits.Add(ctx, 1)
}
