package api

import (
	"sync"
	"time"
)

// AlertType identifies the kind of anomaly detected.
type AlertType string

const (
	AlertLoginFailureSpike AlertType = "login_failure_spike"
	// AlertDirectBurst fires when direct messages go out fast enough to
	// risk an upstream spam flag.
	AlertDirectBurst AlertType = "direct_message_burst"
)

// AlertEvent describes an anomaly that triggered an alert.
type AlertEvent struct {
	Type      AlertType `json:"type"`
	Message   string    `json:"message"`
	Count     int       `json:"count"`
	Threshold int       `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertFunc is the callback invoked when an anomaly is detected.
type AlertFunc func(AlertEvent)

// slidingWindow counts events within a trailing window.
type slidingWindow struct {
	times     []time.Time
	window    time.Duration
	threshold int
}

// add records now and reports the count if the threshold was reached, in
// which case the window is reset.
func (s *slidingWindow) add(now time.Time) (int, bool) {
	s.times = append(s.times, now)
	s.times = trimWindow(s.times, now, s.window)
	if len(s.times) < s.threshold {
		return 0, false
	}
	n := len(s.times)
	s.times = s.times[:0]
	return n, true
}

// metricsCollector tracks sliding window counters for anomaly detection.
type metricsCollector struct {
	mu      sync.Mutex
	login   slidingWindow
	direct  slidingWindow
	alertFn AlertFunc
	now     func() time.Time
}

const (
	defaultLoginFailureWindow    = 1 * time.Minute
	defaultLoginFailureThreshold = 10
	defaultDirectWindow          = 1 * time.Minute
	defaultDirectThreshold       = 30
)

func newMetricsCollector(alertFn AlertFunc) *metricsCollector {
	return &metricsCollector{
		login:   slidingWindow{window: defaultLoginFailureWindow, threshold: defaultLoginFailureThreshold},
		direct:  slidingWindow{window: defaultDirectWindow, threshold: defaultDirectThreshold},
		alertFn: alertFn,
		now:     time.Now,
	}
}

// recordEvent inspects an audit event and updates the relevant counters.
func (m *metricsCollector) recordEvent(event AuditEvent) {
	if m == nil || m.alertFn == nil {
		return
	}
	switch event {
	case AuditLoginFailure:
		m.record(&m.login, AlertLoginFailureSpike, "login failure rate exceeds threshold")
	case AuditDirectMessageSent:
		m.record(&m.direct, AlertDirectBurst, "direct message rate exceeds threshold")
	}
}

func (m *metricsCollector) record(w *slidingWindow, typ AlertType, msg string) {
	m.mu.Lock()
	now := m.now()
	n, fire := w.add(now)
	threshold := w.threshold
	m.mu.Unlock()

	if fire {
		m.alertFn(AlertEvent{Type: typ, Message: msg, Count: n, Threshold: threshold, Timestamp: now})
	}
}

// trimWindow removes entries older than (now - window) from the sorted slice.
func trimWindow(times []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	start := 0
	for start < len(times) && times[start].Before(cutoff) {
		start++
	}
	return times[start:]
}
