package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/esotel/zabbix/alert"
	"github.com/esotel/zabbix/logger"
	"github.com/esotel/zabbix/queue"
)

const schema = `
create table alerts (
	alertid integer primary key,
	mediatypeid integer not null,
	sendto text not null default '',
	subject text not null default '',
	message text not null default '',
	status integer not null default 0,
	retries integer not null default 0,
	error text not null default '',
	eventid integer,
	alerttype integer not null default 0
);
create table events (
	eventid integer primary key,
	source integer not null default 0,
	object integer not null default 0,
	objectid integer not null default 0
);
create table media_type (
	mediatypeid integer primary key,
	type integer not null,
	description text not null default '',
	smtp_server text not null default '',
	smtp_helo text not null default '',
	smtp_email text not null default '',
	exec_path text not null default '',
	gsm_modem text not null default '',
	username text not null default '',
	passwd text not null default '',
	smtp_port text not null default '25',
	smtp_security integer not null default 0,
	smtp_verify_peer integer not null default 0,
	smtp_verify_host integer not null default 0,
	smtp_authentication integer not null default 0,
	exec_params text not null default '',
	maxsessions integer not null default 0,
	maxattempts integer not null default 3,
	attempt_interval integer not null default 10
);
`

func newTestStore(t *testing.T) (*Store, *sql.DB) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "alerts.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec(schema)
	require.NoError(t, err)
	return New(db, logger.Discard), db
}

func seedEvent(t *testing.T, db *sql.DB, eventID uint64, source, object int, objectID uint64) {
	t.Helper()
	_, err := db.Exec("insert into events (eventid,source,object,objectid) values (?,?,?,?)",
		eventID, source, object, objectID)
	require.NoError(t, err)
}

func seedAlert(t *testing.T, db *sql.DB, alertID, mediaTypeID, eventID uint64, status alert.Status) {
	t.Helper()
	_, err := db.Exec(
		"insert into alerts (alertid,mediatypeid,sendto,subject,message,status,eventid,alerttype) values (?,?,?,?,?,?,?,0)",
		alertID, mediaTypeID, "ops@example.com", "subj", "msg", int(status), eventID)
	require.NoError(t, err)
}

func seedMediaType(t *testing.T, db *sql.DB, id uint64, kind alert.MediaKind, smtpPort string) {
	t.Helper()
	_, err := db.Exec(
		"insert into media_type (mediatypeid,type,smtp_server,smtp_port,maxsessions,maxattempts,attempt_interval) values (?,?,?,?,0,3,60)",
		id, int(kind), "mail.example.com", smtpPort)
	require.NoError(t, err)
}

func alertStatus(t *testing.T, db *sql.DB, alertID uint64) (status alert.Status, retries int, errText string) {
	t.Helper()
	var s int
	require.NoError(t, db.QueryRow("select status,retries,error from alerts where alertid=?", alertID).
		Scan(&s, &retries, &errText))
	return alert.Status(s), retries, errText
}

// First poll picks up both new and not-sent alerts (recovering work a
// previous manager had promoted but never finished); subsequent polls
// narrow to new only. New alerts are promoted to not-sent in the store.
func TestGetAlerts_FirstPollWidensStatusFilter(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	seedEvent(t, db, 10, 0, 0, 42)
	seedAlert(t, db, 1, 1, 10, alert.StatusNew)
	seedAlert(t, db, 2, 1, 10, alert.StatusNotSent)
	seedAlert(t, db, 3, 1, 10, alert.StatusSent)

	alerts, err := s.GetAlerts(ctx, 100)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, uint64(1), alerts[0].AlertID)
	assert.Equal(t, uint64(2), alerts[1].AlertID)
	assert.Equal(t, int64(100), alerts[0].NextSend)

	status, _, _ := alertStatus(t, db, 1)
	assert.Equal(t, alert.StatusNotSent, status, "new alert must be promoted on read")

	// Second poll: alert 1 is now not-sent and must not reappear.
	alerts, err = s.GetAlerts(ctx, 200)
	require.NoError(t, err)
	assert.Empty(t, alerts)

	seedAlert(t, db, 4, 1, 10, alert.StatusNew)
	alerts, err = s.GetAlerts(ctx, 300)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, uint64(4), alerts[0].AlertID)
}

// Alerts sharing (source,object,objectid) land in one pool; differing
// only in objectid lands elsewhere.
func TestGetAlerts_PoolDerivation(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	seedEvent(t, db, 10, 0, 4, 42)
	seedEvent(t, db, 11, 0, 4, 42)
	seedEvent(t, db, 12, 0, 4, 43)
	seedAlert(t, db, 1, 1, 10, alert.StatusNew)
	seedAlert(t, db, 2, 1, 11, alert.StatusNew)
	seedAlert(t, db, 3, 1, 12, alert.StatusNew)

	alerts, err := s.GetAlerts(ctx, 100)
	require.NoError(t, err)
	require.Len(t, alerts, 3)
	assert.Equal(t, alerts[0].AlertPoolID, alerts[1].AlertPoolID)
	assert.NotEqual(t, alerts[0].AlertPoolID, alerts[2].AlertPoolID)
}

func TestUpdateMediaTypes_SkipsMalformedSMTPPort(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	q := queue.NewManager()

	seedMediaType(t, db, 1, alert.MediaEmail, "587")
	seedMediaType(t, db, 2, alert.MediaEmail, "not-a-port")

	batch := []*alert.Alert{
		{AlertID: 1, MediaTypeID: 1},
		{AlertID: 2, MediaTypeID: 2},
	}
	require.NoError(t, s.UpdateMediaTypes(ctx, q, batch))

	mt, ok := q.MediaType(1)
	require.True(t, ok)
	assert.Equal(t, 587, mt.Config.SMTPPort)
	assert.Equal(t, "mail.example.com", mt.Config.SMTPServer)

	_, ok = q.MediaType(2)
	assert.False(t, ok, "row with malformed smtp_port must be skipped")
}

// Refreshing an existing media type keeps its in-flight count.
func TestUpdateMediaTypes_PreservesInFlightCount(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	q := queue.NewManager()

	mt := q.UpsertMediaType(alert.MediaType{MediaTypeID: 1, MaxAttempts: 3})
	mt.Config.AlertsNum = 2

	seedMediaType(t, db, 1, alert.MediaEmail, "25")
	require.NoError(t, s.UpdateMediaTypes(ctx, q, []*alert.Alert{{MediaTypeID: 1}}))

	refreshed, ok := q.MediaType(1)
	require.True(t, ok)
	assert.Equal(t, 2, refreshed.Config.AlertsNum)
	assert.Equal(t, alert.MediaEmail, refreshed.Config.Kind)
}

func TestQueueAlerts_PlacesResolvedDropsUnresolved(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	q := queue.NewManager()

	seedEvent(t, db, 10, 0, 0, 42)
	seedMediaType(t, db, 1, alert.MediaEmail, "25")
	seedAlert(t, db, 1, 1, 10, alert.StatusNew)
	seedAlert(t, db, 2, 777, 10, alert.StatusNew) // no media_type row

	queued, err := s.QueueAlerts(ctx, q, 100)
	require.NoError(t, err)
	assert.Equal(t, 1, queued)

	require.True(t, q.CheckQueue(100))
	a, ok := q.PopAlert()
	require.True(t, ok)
	assert.Equal(t, uint64(1), a.AlertID)

	_, ok = q.PopAlert()
	assert.False(t, ok, "alert with unresolved media type must be dropped")
}

func TestFlushAlertUpdates_WritesAndClears(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	q := queue.NewManager()

	seedEvent(t, db, 10, 0, 0, 42)
	seedAlert(t, db, 1, 1, 10, alert.StatusNotSent)
	seedAlert(t, db, 2, 1, 10, alert.StatusNotSent)

	q.BufferStatusUpdate(alert.StatusUpdate{AlertID: 1, Status: alert.StatusSent, Retries: 0})
	q.BufferStatusUpdate(alert.StatusUpdate{AlertID: 2, Status: alert.StatusFailed, Retries: 2, Error: "smtp timeout"})

	n, err := s.FlushAlertUpdates(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	status, retries, errText := alertStatus(t, db, 1)
	assert.Equal(t, alert.StatusSent, status)
	assert.Equal(t, 0, retries)
	assert.Equal(t, "", errText)

	status, retries, errText = alertStatus(t, db, 2)
	assert.Equal(t, alert.StatusFailed, status)
	assert.Equal(t, 2, retries)
	assert.Equal(t, "smtp timeout", errText)

	// Buffer is cleared: flushing again is a no-op.
	n, err = s.FlushAlertUpdates(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestFlushAlertUpdates_TruncatesLongError(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	q := queue.NewManager()

	seedAlert(t, db, 1, 1, 0, alert.StatusNotSent)
	q.BufferStatusUpdate(alert.StatusUpdate{
		AlertID: 1,
		Status:  alert.StatusFailed,
		Error:   strings.Repeat("x", AlertErrorLen+500),
	})

	_, err := s.FlushAlertUpdates(ctx, q)
	require.NoError(t, err)

	_, _, errText := alertStatus(t, db, 1)
	assert.Len(t, errText, AlertErrorLen)
}

func TestTruncateError_RuneBoundary(t *testing.T) {
	msg := strings.Repeat("x", AlertErrorLen-1) + "é" // multibyte straddles the cap
	got := truncateError(msg)
	assert.LessOrEqual(t, len(got), AlertErrorLen)
	assert.Equal(t, strings.Repeat("x", AlertErrorLen-1), got)
}
