package actor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phasorframe/phasor/runtime/config"
	"github.com/phasorframe/phasor/runtime/errs"
)

type Command struct{ Value int }
type Response struct{ Value int }

type doubler struct{}

func (doubler) Step(ctx *struct{}, msg *Command, out *Outbox[Response]) error {
	return out.Send(Response{Value: msg.Value * 2})
}

// TestActorDoublerRoundTrip is scenario S3: a Command{value}/Response{value}
// actor that doubles its input, exercised with two in-flight sends followed
// by a clean WaitForStop.
func TestActorDoublerRoundTrip(t *testing.T) {
	ctx := &struct{}{}
	h := Spawn[struct{}, Command, Response](ctx, doubler{}, SpawnOptions[struct{}]{})

	require.NoError(t, h.Send(Command{Value: 10}))
	require.NoError(t, h.Send(Command{Value: 25}))

	r1, err := h.Recv()
	require.NoError(t, err)
	assert.Equal(t, 20, r1.Value)

	r2, err := h.Recv()
	require.NoError(t, err)
	assert.Equal(t, 50, r2.Value)

	require.NoError(t, h.WaitForStop(1*time.Second))
}

// TestActorRecvAfterStopReturnsErrStopped confirms the Stopped marker is
// observable via Recv once the worker has drained its inbox and stopped.
func TestActorRecvAfterStopReturnsErrStopped(t *testing.T) {
	ctx := &struct{}{}
	h := Spawn[struct{}, Command, Response](ctx, doubler{}, SpawnOptions[struct{}]{})

	require.NoError(t, h.Send(Command{Value: 1}))
	_, err := h.Recv()
	require.NoError(t, err)

	require.NoError(t, h.inboxTx.Send(inboxEnvelope[Command]{kind: envStop}))

	_, err = h.Recv()
	assert.ErrorIs(t, err, errs.ErrStopped)

	<-h.done
	h.inboxTx.Release()
	h.outboxRx.Release()
}

type failer struct{}

func (failer) Step(ctx *struct{}, msg *Command, out *Outbox[Response]) error {
	return assertError{}
}

type assertError struct{}

func (assertError) Error() string { return "worker failure" }

// TestActorOnWorkerErrorCallback confirms a Stepper error both stops the
// worker and invokes OnWorkerError exactly once.
func TestActorOnWorkerErrorCallback(t *testing.T) {
	ctx := &struct{}{}
	var gotErr error
	calls := 0
	h := Spawn[struct{}, Command, Response](ctx, failer{}, SpawnOptions[struct{}]{
		OnWorkerError: func(err error) {
			calls++
			gotErr = err
		},
	})

	require.NoError(t, h.Send(Command{Value: 1}))

	_, err := h.Recv()
	assert.Error(t, err)

	require.NoError(t, h.WaitForStop(1*time.Second))
	assert.Equal(t, 1, calls)
	assert.EqualError(t, gotErr, "worker failure")
}

// TestSpawnFromConfigUsesConfiguredStopTimeout confirms a zero-or-negative
// WaitForStop timeout falls back to the StopTimeout sourced from the given
// config.Config, rather than the package default.
func TestSpawnFromConfigUsesConfiguredStopTimeout(t *testing.T) {
	ctx := &struct{}{}
	cfg := config.Default()
	cfg.Actor.StopTimeout = config.Duration(200 * time.Millisecond)

	h := SpawnFromConfig[struct{}, Command, Response](ctx, doubler{}, cfg, SpawnOptions[struct{}]{})
	assert.Equal(t, 200*time.Millisecond, h.stopTimeout)

	require.NoError(t, h.WaitForStop(0))
}

// TestSpawnDefaultsCapacitiesFromConfig confirms Spawn falls back to
// config.Default().Actor capacities when SpawnOptions leaves them unset.
func TestSpawnDefaultsCapacitiesFromConfig(t *testing.T) {
	ctx := &struct{}{}
	h := Spawn[struct{}, Command, Response](ctx, doubler{}, SpawnOptions[struct{}]{})
	assert.Equal(t, config.Default().Actor.InboxCapacity, h.inboxTx.Cap())
	assert.Equal(t, config.Default().Actor.OutboxCapacity, h.outboxRx.Cap())

	require.NoError(t, h.Send(Command{Value: 1}))
	_, err := h.Recv()
	require.NoError(t, err)
	require.NoError(t, h.WaitForStop(1*time.Second))
}
