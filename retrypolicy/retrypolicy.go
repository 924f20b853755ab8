// Package retrypolicy translates delivery results into alert status
// transitions: a successful result removes the alert as sent, a failed one
// either reschedules it one attempt interval out or, once the media type's
// maxattempts is reached, removes it as failed. Every transition buffers
// one status update for the store.
package retrypolicy

import (
	"github.com/esotel/zabbix/alert"
	"github.com/esotel/zabbix/queue"
)

// Worker result codes carried in a RESULT payload.
const (
	ErrCodeOK = 0
)

// Apply runs the outcome state machine for a completed delivery attempt
// and returns the terminal-or-intermediate status recorded for the alert.
// A failure the worker classified as permanent (retryable false) is
// marked failed immediately instead of burning through the remaining
// attempts. The retries value written to the store is the count as of
// dispatch, not after the failed attempt bumped it.
func Apply(m *queue.Manager, a *alert.Alert, errCode int, errMsg string, retryable bool, now int64) alert.Status {
	retries := a.Retries
	var status alert.Status

	switch {
	case errCode == ErrCodeOK:
		status = alert.StatusSent
		errMsg = ""
		m.RemoveAlert(a)
	case !retryable:
		status = alert.StatusFailed
		m.RemoveAlert(a)
	default:
		if m.RetryAlert(a, now) == queue.RetryRequeued {
			status = alert.StatusNotSent
		} else {
			status = alert.StatusFailed
		}
	}

	m.BufferStatusUpdate(alert.StatusUpdate{
		AlertID: a.AlertID,
		Status:  status,
		Retries: retries,
		Error:   errMsg,
	})
	return status
}

// Fail records an alert that never reached a worker (unsupported media
// type, unpreparable exec command): no retry, one failed status update,
// removal from the scheduler.
func Fail(m *queue.Manager, a *alert.Alert, errMsg string) {
	m.BufferStatusUpdate(alert.StatusUpdate{
		AlertID: a.AlertID,
		Status:  alert.StatusFailed,
		Retries: a.Retries,
		Error:   errMsg,
	})
	m.RemoveAlert(a)
}
