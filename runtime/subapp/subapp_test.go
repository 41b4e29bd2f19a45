package subapp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phasorframe/phasor/runtime/app"
	"github.com/phasorframe/phasor/runtime/schedule"
	"github.com/phasorframe/phasor/runtime/txn"
)

// buildDoublingChild wires a child App whose single system reads the
// pending inbox int and pushes its double onto the outbox queue.
func buildDoublingChild(t *testing.T) *app.App {
	t.Helper()
	child := app.New()
	_, err := child.AddSchedule("Tick")
	require.NoError(t, err)
	require.NoError(t, child.AddSystem("Tick", "double", func(txn.Transaction) error {
		res, err := app.GetResource[ChildResource[int, int]](child)
		if err != nil {
			return err
		}
		in, err := res.PendingInbox()
		if err != nil {
			return err
		}
		return res.PushOutbox(in * 2)
	}))
	child.SetRunner(schedule.NewRunner(child.Schedules, schedule.RunnerOptions{}))
	return child
}

func TestSubAppRoutesTickAndCollectsOutput(t *testing.T) {
	parent := app.New()
	child := buildDoublingChild(t)

	sa := Spawn[int, int](parent, child, Options[int, int]{})

	require.NoError(t, sa.Send(21))
	out, err := sa.Recv()
	require.NoError(t, err)
	assert.Equal(t, 42, out)

	require.NoError(t, sa.WaitForStop(1*time.Second))
}

func TestSubAppParentResourceBridgesInboxOutbox(t *testing.T) {
	parent := app.New()
	child := buildDoublingChild(t)

	sa := Spawn[int, int](parent, child, Options[int, int]{})

	res, err := app.GetResource[ParentResource[int, int]](parent)
	require.NoError(t, err)

	require.NoError(t, res.Inbox(10))
	out, err := res.Outbox()
	require.NoError(t, err)
	assert.Equal(t, 20, out)

	require.NoError(t, sa.WaitForStop(1*time.Second))
}

func TestSubAppTeardownScheduleRunsOnStop(t *testing.T) {
	parent := app.New()
	child := app.New()
	_, err := child.AddSchedule("Tick")
	require.NoError(t, err)
	_, err = child.AddSchedule("Teardown")
	require.NoError(t, err)

	var tornDown bool
	require.NoError(t, child.AddSystem("Teardown", "mark", func(txn.Transaction) error {
		tornDown = true
		return nil
	}))
	child.SetRunner(schedule.NewRunner(child.Schedules, schedule.RunnerOptions{}))

	sa := Spawn[int, int](parent, child, Options[int, int]{TeardownSchedule: "Teardown"})
	require.NoError(t, sa.WaitForStop(1*time.Second))
	assert.True(t, tornDown)
}

func TestAppShutdownWaitsForSubApp(t *testing.T) {
	parent := app.New()
	child := buildDoublingChild(t)
	Spawn[int, int](parent, child, Options[int, int]{})

	require.NoError(t, parent.Shutdown())
}
