package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAwaitSucceedsOnThirdPoll(t *testing.T) {
	clock := NewVirtualClock(epoch)
	calls := 0
	polls, err := Await(context.Background(), clock, DefaultPollPresets().Short, func(context.Context) (bool, error) {
		calls++
		return calls == 3, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, polls)

	elapsed := clock.Now().Sub(epoch)
	assert.GreaterOrEqual(t, elapsed, 2*27*time.Second)
	assert.LessOrEqual(t, elapsed, 2*30*time.Second)
}

func TestAwaitTimesOut(t *testing.T) {
	clock := NewVirtualClock(epoch)
	poll := DefaultPollPresets().Short
	polls, err := Await(context.Background(), clock, poll, func(context.Context) (bool, error) {
		return false, nil
	})
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Equal(t, epoch.Add(poll.Timeout), clock.Now())
	assert.GreaterOrEqual(t, polls, 21)
	assert.LessOrEqual(t, polls, 24)
}

func TestAwaitConditionErrorAborts(t *testing.T) {
	clock := NewVirtualClock(epoch)
	boom := errors.New("describe failed")
	polls, err := Await(context.Background(), clock, DefaultPollPresets().Long, func(context.Context) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsTimeout(err))
	assert.Equal(t, 1, polls)
}

func TestJitterSubtractsAtMostTenPercent(t *testing.T) {
	assert.Equal(t, 30*time.Second, jittered(30*time.Second, 0))
	assert.Equal(t, 27*time.Second, jittered(30*time.Second, 1))
	for _, r := range []float64{0.1, 0.5, 0.99} {
		d := jittered(60*time.Second, r)
		assert.LessOrEqual(t, d, 60*time.Second)
		assert.Greater(t, d, 54*time.Second)
	}
}

type awaitingTask struct {
	BaseTask
	long  bool
	ready int
	calls int
}

func (a *awaitingTask) IsWrite() bool { return false }

func (a *awaitingTask) Apply(ctx context.Context) error {
	cond := func(context.Context) (bool, error) {
		a.calls++
		return a.ready > 0 && a.calls >= a.ready, nil
	}
	if a.long {
		return a.AwaitUntilLong(ctx, "instance terminated", cond)
	}
	return a.AwaitUntil(ctx, "instance terminated", cond)
}

func TestAwaitUntilRecordsTimeoutOnTask(t *testing.T) {
	tasks, clock := newTestRun(t, Options{})
	task := &awaitingTask{long: true}

	_, err := tasks.Submit(context.Background(), task)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))
	assert.Contains(t, task.Errors(), ErrorTimeout)
	assert.Equal(t, epoch.Add(60*time.Minute), clock.Now())
}

func TestAwaitUntilReturnsWhenConditionHolds(t *testing.T) {
	tasks, _ := newTestRun(t, Options{})
	task := &awaitingTask{ready: 2}
	_, err := tasks.Submit(context.Background(), task)
	require.NoError(t, err)
	assert.Equal(t, 2, task.calls)
}
