package realtime

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBusFanOut(t *testing.T) {
	b := NewBus()
	s1 := b.Subscribe(4)
	s2 := b.Subscribe(4)
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(Connected{Endpoint: "wss://x"})
	assert.Equal(t, Connected{Endpoint: "wss://x"}, <-s1.C)
	assert.Equal(t, Connected{Endpoint: "wss://x"}, <-s2.C)
}

func TestBusCountsDropsForLaggingSubscriber(t *testing.T) {
	b := NewBus()
	slow := b.Subscribe(1)
	fast := b.Subscribe(8)

	for range 3 {
		b.Publish(ErrorEvent{Cause: errors.New("x")})
	}
	assert.Equal(t, uint64(2), b.Dropped())
	assert.Len(t, slow.C, 1)
	assert.Len(t, fast.C, 3)
}

func TestBusUnsubscribe(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)
	s.Unsubscribe()
	s.Unsubscribe()
	_, ok := <-s.C
	assert.False(t, ok)
	assert.Zero(t, b.Subscribers())
	b.Publish(Connected{})
}

func TestBusClose(t *testing.T) {
	b := NewBus()
	s := b.Subscribe(1)
	b.Close()
	_, ok := <-s.C
	assert.False(t, ok)
	s.Unsubscribe()

	late := b.Subscribe(1)
	_, ok = <-late.C
	assert.False(t, ok)
	b.Publish(Connected{})
}

func TestNewRecord(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	r := NewRecord(Message{Topic: TopicDirectMessage, Kind: KindDirectMessage, Payload: []byte(`{"a":1}`), Decoded: map[string]any{"a": 1.0}, At: at})
	assert.Equal(t, "message", r.Type)
	assert.JSONEq(t, `{"a":1}`, string(r.Payload))
	assert.Empty(t, r.Text)

	r = NewRecord(UnknownMessage{Topic: "/x", Payload: []byte("raw")})
	assert.Equal(t, "unknown_message", r.Type)
	assert.Equal(t, "raw", r.Text)
	assert.Nil(t, r.Payload)

	r = NewRecord(Disconnected{Reason: "read failed", Err: errors.New("eof")})
	assert.Equal(t, "eof", r.Error)

	r = NewRecord(ErrorEvent{Cause: errors.New("boom")})
	require.Equal(t, "error", r.Type)
	assert.Equal(t, "boom", r.Error)
}

func TestConnStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "disconnected", StateDisconnected.String())
}

func TestDecodeFrame(t *testing.T) {
	out, dec := decodeFrame([]byte(`[1,2]`))
	assert.Equal(t, `[1,2]`, string(out))
	assert.Equal(t, []any{1.0, 2.0}, dec)

	out, dec = decodeFrame([]byte{0x78, 0x00, 0xff})
	assert.Equal(t, []byte{0x78, 0x00, 0xff}, out)
	assert.Nil(t, dec)

	out, dec = decodeFrame(nil)
	assert.Empty(t, out)
	assert.Nil(t, dec)
}
