package api

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []AlertEvent
}

func (r *alertRecorder) record(e AlertEvent) {
	r.mu.Lock()
	r.alerts = append(r.alerts, e)
	r.mu.Unlock()
}

func (r *alertRecorder) snapshot() []AlertEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AlertEvent(nil), r.alerts...)
}

func TestLoginFailureSpikeAlert(t *testing.T) {
	rec := &alertRecorder{}
	m := newMetricsCollector(rec.record)
	m.login.threshold = 5

	for i := 0; i < 4; i++ {
		m.recordEvent(AuditLoginFailure)
	}
	assert.Empty(t, rec.snapshot())

	m.recordEvent(AuditLoginFailure)
	alerts := rec.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertLoginFailureSpike, alerts[0].Type)
	assert.Equal(t, 5, alerts[0].Count)
	assert.Equal(t, 5, alerts[0].Threshold)
}

func TestDirectBurstAlert(t *testing.T) {
	rec := &alertRecorder{}
	m := newMetricsCollector(rec.record)
	m.direct.threshold = 3

	for i := 0; i < 3; i++ {
		m.recordEvent(AuditDirectMessageSent)
	}
	alerts := rec.snapshot()
	require.Len(t, alerts, 1)
	assert.Equal(t, AlertDirectBurst, alerts[0].Type)
}

func TestAlertWindowExpires(t *testing.T) {
	rec := &alertRecorder{}
	m := newMetricsCollector(rec.record)
	m.login.threshold = 3
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	m.recordEvent(AuditLoginFailure)
	m.recordEvent(AuditLoginFailure)
	now = now.Add(defaultLoginFailureWindow + time.Second)
	m.recordEvent(AuditLoginFailure)

	assert.Empty(t, rec.snapshot(), "failures outside the window do not count")
}

func TestAlertResetsAfterFiring(t *testing.T) {
	rec := &alertRecorder{}
	m := newMetricsCollector(rec.record)
	m.login.threshold = 2

	for i := 0; i < 3; i++ {
		m.recordEvent(AuditLoginFailure)
	}
	assert.Len(t, rec.snapshot(), 1)
}

func TestUnrelatedEventsIgnored(t *testing.T) {
	rec := &alertRecorder{}
	m := newMetricsCollector(rec.record)
	m.login.threshold = 1
	m.direct.threshold = 1

	m.recordEvent(AuditLoginSuccess)
	m.recordEvent(AuditSessionSaved)
	assert.Empty(t, rec.snapshot())
}

func TestNilCollector(t *testing.T) {
	var m *metricsCollector
	assert.NotPanics(t, func() { m.recordEvent(AuditLoginFailure) })
	assert.NotPanics(t, func() { newMetricsCollector(nil).recordEvent(AuditLoginFailure) })
}
