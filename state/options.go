package state

import (
	"log/slog"
	"time"
)

// Option configures a State.
type Option func(*State)

// WithSeed derives the device identity from seed instead of DefaultSeed.
func WithSeed(seed string) Option {
	return func(s *State) {
		s.device = GenerateDevice(seed)
	}
}

// WithDevice sets an explicit device identity.
func WithDevice(d Device) Option {
	return func(s *State) {
		s.device = d
	}
}

// WithConstants overrides the client build constants.
func WithConstants(c Constants) Option {
	return func(s *State) {
		s.constants = c
	}
}

// WithLocale overrides the locale and connection attributes.
func WithLocale(l Locale) Option {
	return func(s *State) {
		s.locale = l
	}
}

// WithGUIDLifetimes sets the bucket widths of the client and pigeon session ids.
func WithGUIDLifetimes(clientSession, pigeonSession time.Duration) Option {
	return func(s *State) {
		s.clientSessionLifetime = clientSession
		s.pigeonSessionLifetime = pigeonSession
	}
}

// WithProxyURL routes HTTP traffic for this session through proxy.
func WithProxyURL(proxy string) Option {
	return func(s *State) {
		s.proxyURL = proxy
	}
}

// WithClock replaces the wall clock used for GUID buckets and cookie expiry.
func WithClock(now func() time.Time) Option {
	return func(s *State) {
		s.now = now
		s.jar.now = now
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *State) {
		s.logger = logger
	}
}
