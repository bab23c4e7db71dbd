package events

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"printwatch/internal/model"
)

func TestEmitRunsHandlersInRegistrationOrder(t *testing.T) {
	bus := NewBus()

	var calls []int
	for i := 0; i < 5; i++ {
		i := i
		bus.Subscribe(JobFinished, func(ev *Event) error {
			calls = append(calls, i)
			return nil
		})
	}

	require.NoError(t, bus.Emit(JobFinished, Event{Job: model.Job{ID: 1}}))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, calls)
}

func TestEmitWithoutSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	assert.NoError(t, bus.Emit(JobCreated, Event{}))
	assert.Equal(t, 0, bus.SubscriberCount(JobCreated))
}

func TestEmitOnlyReachesMatchingName(t *testing.T) {
	bus := NewBus()

	var finished, failed int
	bus.Subscribe(JobFinished, func(ev *Event) error { finished++; return nil })
	bus.Subscribe(JobFailed, func(ev *Event) error { failed++; return nil })

	require.NoError(t, bus.Emit(JobFailed, Event{}))
	assert.Equal(t, 0, finished)
	assert.Equal(t, 1, failed)
}

func TestEmitSetsNameAndSharesEventAcrossHandlers(t *testing.T) {
	bus := NewBus()

	bus.Subscribe(JobFinished, func(ev *Event) error {
		assert.Equal(t, JobFinished, ev.Name)
		ev.Job.Status = model.JobStatusCompleted
		return nil
	})

	var seen model.JobStatus
	bus.Subscribe(JobFinished, func(ev *Event) error {
		seen = ev.Job.Status
		return nil
	})

	require.NoError(t, bus.Emit(JobFinished, Event{Job: model.Job{Status: model.JobStatusPrinting}}))
	assert.Equal(t, model.JobStatusCompleted, seen)
}

func TestFailingHandlerAbortsRemainingDispatch(t *testing.T) {
	bus := NewBus()
	boom := errors.New("boom")

	var after bool
	bus.Subscribe(JobFailed, func(ev *Event) error { return boom })
	bus.Subscribe(JobFailed, func(ev *Event) error { after = true; return nil })

	err := bus.Emit(JobFailed, Event{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.False(t, after)
}

func TestPanickingHandlerIsReportedAsError(t *testing.T) {
	bus := NewBus()

	var after bool
	bus.Subscribe(JobFailed, func(ev *Event) error { panic("bad handler") })
	bus.Subscribe(JobFailed, func(ev *Event) error { after = true; return nil })

	err := bus.Emit(JobFailed, Event{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad handler")
	assert.False(t, after)
}

func TestUnsubscribeRemovesOnlyThatHandler(t *testing.T) {
	bus := NewBus()

	var calls []string
	bus.Subscribe(JobCreated, func(ev *Event) error { calls = append(calls, "a"); return nil })
	unsubscribe := bus.Subscribe(JobCreated, func(ev *Event) error { calls = append(calls, "b"); return nil })
	bus.Subscribe(JobCreated, func(ev *Event) error { calls = append(calls, "c"); return nil })

	unsubscribe()
	unsubscribe()

	require.NoError(t, bus.Emit(JobCreated, Event{}))
	assert.Equal(t, []string{"a", "c"}, calls)
	assert.Equal(t, 2, bus.SubscriberCount(JobCreated))
}

func TestHandlerMayEmitReentrantly(t *testing.T) {
	bus := NewBus()

	var monitoringFailed int
	bus.Subscribe(JobCreated, func(ev *Event) error {
		return bus.Emit(JobMonitoringFailed, Event{Job: ev.Job})
	})
	bus.Subscribe(JobMonitoringFailed, func(ev *Event) error {
		monitoringFailed++
		return nil
	})

	require.NoError(t, bus.Emit(JobCreated, Event{Job: model.Job{ID: 3}}))
	assert.Equal(t, 1, monitoringFailed)
}
