package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phasorframe/phasor/runtime/config"
	"github.com/phasorframe/phasor/runtime/errs"
)

// recordingMetrics is a telemetry.Metrics stub that counts RecordTimer calls
// by name, used to confirm Create's WithMetrics option is actually wired
// into Send/Recv rather than silently ignored.
type recordingMetrics struct {
	mu     sync.Mutex
	timers map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{timers: make(map[string]int)}
}

func (m *recordingMetrics) IncCounter(string, float64, ...string) {}

func (m *recordingMetrics) RecordTimer(name string, _ time.Duration, _ ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timers[name]++
}

func (m *recordingMetrics) RecordGauge(string, float64, ...string) {}

func (m *recordingMetrics) count(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timers[name]
}

// TestBoundedFIFOUnderClose is scenario S1: bounded channel FIFO under close.
func TestBoundedFIFOUnderClose(t *testing.T) {
	tx, rx, err := Create[int](2)
	require.NoError(t, err)

	require.NoError(t, tx.Send(1))
	require.NoError(t, tx.Send(2))

	ok, err := tx.TrySend(3)
	require.NoError(t, err)
	assert.False(t, ok)

	v, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	ok, err = tx.TrySend(3)
	require.NoError(t, err)
	assert.True(t, ok)

	tx.Close()

	v, err = rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 3, v)

	_, err = rx.Recv()
	assert.ErrorIs(t, err, errs.ErrClosed)
}

func TestCreateInvalidCapacity(t *testing.T) {
	_, _, err := Create[int](0)
	assert.ErrorIs(t, err, errs.ErrInvalidCapacity)
}

func TestCreateFromConfigUsesDefaultCapacity(t *testing.T) {
	tx, rx, err := CreateFromConfig[int](config.ChannelConfig{DefaultCapacity: 2})
	require.NoError(t, err)
	defer tx.Release()
	defer rx.Release()

	assert.Equal(t, 2, rx.Cap())
}

func TestSingleSenderSingleReceiverFIFO(t *testing.T) {
	tx, rx, err := Create[int](4)
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			require.NoError(t, tx.Send(i))
		}
		tx.Close()
	}()

	var got []int
	for {
		v, err := rx.Recv()
		if err != nil {
			break
		}
		got = append(got, v)
	}
	wg.Wait()

	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	tx, rx, err := Create[int](1)
	require.NoError(t, err)

	tx.Release()
	assert.NotPanics(t, func() { tx.Release() })
	rx.Release()
	assert.NotPanics(t, func() { rx.Release() })
}

func TestCloneBumpsRefcountAndFreesOnLastRelease(t *testing.T) {
	tx, rx, err := Create[int](1)
	require.NoError(t, err)

	tx2 := tx.Clone()
	tx.Release()
	// tx2 still holds a reference, so the inner is not yet freed: Recv/Send
	// via rx must still work.
	require.NoError(t, tx2.Send(7))
	v, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	tx2.Release()
	rx.Release()
	assert.Nil(t, rx.in.buf)
}

func TestClonePanicsAfterRelease(t *testing.T) {
	tx, rx, err := Create[int](1)
	require.NoError(t, err)
	rx.Release()
	tx.Release()

	assert.Panics(t, func() { tx.Clone() })
}

// TestSendRecvAfterReleaseReturnErrClosed confirms a released handle's
// Send/Recv/TrySend/TryRecv never touch the freed buffer and instead
// behave as if the channel were closed, even when this was the last live
// handle and the inner buffer has already been freed.
func TestSendRecvAfterReleaseReturnErrClosed(t *testing.T) {
	tx, rx, err := Create[int](1)
	require.NoError(t, err)

	rx.Release()
	tx.Release()

	assert.ErrorIs(t, tx.Send(1), errs.ErrClosed)
	ok, err := tx.TrySend(1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, errs.ErrClosed)

	_, err = rx.Recv()
	assert.ErrorIs(t, err, errs.ErrClosed)
	_, ok = rx.TryRecv()
	assert.False(t, ok)
}

// TestWithMetricsRecordsSendRecvLatency confirms a channel created with
// WithMetrics reports Send/Recv latency, and a blocked send/recv in
// addition reports blocked-time.
func TestWithMetricsRecordsSendRecvLatency(t *testing.T) {
	m := newRecordingMetrics()
	tx, rx, err := Create[int](1, WithMetrics[int](m))
	require.NoError(t, err)
	defer tx.Release()
	defer rx.Release()

	require.NoError(t, tx.Send(1))
	assert.Equal(t, 1, m.count("channel.send.latency"))
	assert.Equal(t, 0, m.count("channel.send.blocked"))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		time.Sleep(10 * time.Millisecond)
		_, err := rx.Recv()
		require.NoError(t, err)
	}()
	// Buffer is full (capacity 1, one value already buffered), so this
	// Send blocks until the goroutine above drains it.
	require.NoError(t, tx.Send(2))
	wg.Wait()

	assert.Equal(t, 2, m.count("channel.send.latency"))
	assert.Equal(t, 1, m.count("channel.send.blocked"))

	v, err := rx.Recv()
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.Equal(t, 2, m.count("channel.recv.latency"))
}

// TestRingBufferInvariant is a property test for invariant 1: for any
// sequence of sends/receives within capacity, 0 <= len <= cap and the
// values observed are exactly those sent, in order.
func TestRingBufferInvariant(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("interleaved sends/receives preserve FIFO and bounds", prop.ForAll(
		func(capacity int, values []int) bool {
			tx, rx, err := Create[int](capacity)
			if err != nil {
				return false
			}
			defer tx.Release()
			defer rx.Release()

			var received []int
			var pending int
			for _, v := range values {
				ok, _ := tx.TrySend(v)
				if ok {
					pending++
					if rx.Len() < 0 || rx.Len() > rx.Cap() {
						return false
					}
				}
				if pending > 0 {
					got, ok := rx.TryRecv()
					if !ok {
						return false
					}
					received = append(received, got)
					pending--
				}
			}
			for pending > 0 {
				got, ok := rx.TryRecv()
				if !ok {
					return false
				}
				received = append(received, got)
				pending--
			}
			if len(received) != len(values) {
				return false
			}
			for i := range received {
				if received[i] != values[i] {
					return false
				}
			}
			return true
		},
		gen.IntRange(1, 8),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
