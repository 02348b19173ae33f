package telemetry

import "go.opentelemetry.io/otel/attribute"

func newPoint(name string, kvs []attribute.KeyValue, value float64) Point {
	p := Point{Name: name, Value: value}
	if len(kvs) > 0 {
		p.Attributes = make(map[string]string, len(kvs))
		for _, kv := range kvs {
			p.Attributes[string(kv.Key)] = kv.Value.Emit()
		}
	}
	return p
}
