package state

import (
	"strconv"
	"time"

	"github.com/google/uuid"
)

var guidNamespace = uuid.MustParse("0f8d6c5e-2a41-4b7c-8e93-61d2c7a4b9e0")

// TemporaryGUID returns a GUID derived from name, the device id and the
// current lifetime bucket. It is stable for the length of one bucket and
// changes once the bucket elapses.
func (s *State) TemporaryGUID(name string, lifetime time.Duration) string {
	s.mu.RLock()
	deviceID := s.device.DeviceID
	s.mu.RUnlock()
	return temporaryGUID(name, deviceID, s.now(), lifetime)
}

func temporaryGUID(name, deviceID string, now time.Time, lifetime time.Duration) string {
	width := lifetime.Milliseconds()
	if width <= 0 {
		width = DefaultGUIDLifetime.Milliseconds()
	}
	bucket := now.UnixMilli() / width
	return uuid.NewSHA1(guidNamespace, []byte(name+deviceID+strconv.FormatInt(bucket, 10))).String()
}

// ClientSessionID is the rotating client session identifier.
func (s *State) ClientSessionID() string {
	s.mu.RLock()
	lifetime := s.clientSessionLifetime
	s.mu.RUnlock()
	return s.TemporaryGUID("clientSessionId", lifetime)
}

// PigeonSessionID is the rotating analytics session identifier.
func (s *State) PigeonSessionID() string {
	s.mu.RLock()
	lifetime := s.pigeonSessionLifetime
	s.mu.RUnlock()
	return s.TemporaryGUID("pigeonSessionId", lifetime)
}
