package retrypolicy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/esotel/zabbix/alert"
	"github.com/esotel/zabbix/queue"
)

func seedOne(t *testing.T, maxAttempts int, interval int64) (*queue.Manager, *alert.Alert) {
	t.Helper()
	m := queue.NewManager()
	mt := m.UpsertMediaType(alert.MediaType{
		MediaTypeID:     1,
		MaxAttempts:     maxAttempts,
		AttemptInterval: interval,
	})
	a := &alert.Alert{AlertID: 1, MediaTypeID: 1, AlertPoolID: 7, NextSend: 100}
	pool := m.GetOrCreateAlertPool(1, 7)
	m.PushAlert(pool, a)
	m.PushAlertPool(mt, pool)
	m.PushMediaType(mt)

	popped, ok := m.PopAlert()
	require.True(t, ok)
	return m, popped
}

func TestApply_SuccessBuffersSent(t *testing.T) {
	m, a := seedOne(t, 3, 60)

	status := Apply(m, a, ErrCodeOK, "ignored on success", false, 100)
	assert.Equal(t, alert.StatusSent, status)

	updates := m.DrainUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, alert.StatusUpdate{AlertID: 1, Status: alert.StatusSent, Retries: 0, Error: ""}, updates[0])
	assert.False(t, m.CheckQueue(1<<40))
}

// Failure at t=100 with attempt_interval=60 reschedules at 160 and records
// the pre-attempt retries count with the worker's error text.
func TestApply_FailureRequeuesWithBackoff(t *testing.T) {
	m, a := seedOne(t, 3, 60)

	status := Apply(m, a, 1, "connection refused", true, 100)
	assert.Equal(t, alert.StatusNotSent, status)
	assert.Equal(t, 1, a.Retries)
	assert.Equal(t, int64(160), a.NextSend)
	assert.False(t, m.CheckQueue(159))
	assert.True(t, m.CheckQueue(160))

	updates := m.DrainUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, alert.StatusNotSent, updates[0].Status)
	assert.Equal(t, 0, updates[0].Retries)
	assert.Equal(t, "connection refused", updates[0].Error)
}

// A failure the worker classified as permanent skips the retry budget
// entirely: one failed update, alert gone, attempts left unspent.
func TestApply_PermanentFailureSkipsRetries(t *testing.T) {
	m, a := seedOne(t, 3, 60)

	status := Apply(m, a, 1, "authentication required", false, 100)
	assert.Equal(t, alert.StatusFailed, status)

	updates := m.DrainUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, alert.StatusFailed, updates[0].Status)
	assert.Equal(t, 0, updates[0].Retries)
	assert.Equal(t, "authentication required", updates[0].Error)
	assert.False(t, m.CheckQueue(1<<40))
}

func TestApply_ExhaustionBuffersFailed(t *testing.T) {
	m, a := seedOne(t, 1, 60) // maxattempts=1: any failure is terminal

	status := Apply(m, a, 1, "host unreachable", true, 100)
	assert.Equal(t, alert.StatusFailed, status)

	updates := m.DrainUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, alert.StatusFailed, updates[0].Status)
	assert.Equal(t, "host unreachable", updates[0].Error)
	assert.False(t, m.CheckQueue(1<<40))
}

// Three failures in a row walk the alert new -> not-sent -> not-sent ->
// failed with the documented backoff at each step.
func TestApply_ThreeStrikesOut(t *testing.T) {
	m, a := seedOne(t, 3, 60)

	assert.Equal(t, alert.StatusNotSent, Apply(m, a, 1, "e1", true, 100))
	popped, ok := popAt(m, a.NextSend)
	require.True(t, ok)
	assert.Equal(t, alert.StatusNotSent, Apply(m, popped, 1, "e2", true, 200))
	popped, ok = popAt(m, popped.NextSend)
	require.True(t, ok)
	assert.Equal(t, alert.StatusFailed, Apply(m, popped, 1, "e3", true, 300))

	updates := m.DrainUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, alert.StatusFailed, updates[0].Status)
	assert.Equal(t, 2, updates[0].Retries)
}

func popAt(m *queue.Manager, now int64) (*alert.Alert, bool) {
	if !m.CheckQueue(now) {
		return nil, false
	}
	return m.PopAlert()
}

func TestFail_NoRetryTerminal(t *testing.T) {
	m, a := seedOne(t, 3, 60)

	Fail(m, a, "unsupported media type")

	updates := m.DrainUpdates()
	require.Len(t, updates, 1)
	assert.Equal(t, alert.StatusUpdate{AlertID: 1, Status: alert.StatusFailed, Retries: 0, Error: "unsupported media type"}, updates[0])
	assert.False(t, m.CheckQueue(1<<40))
}
