// Package store is the database adapter between the persistent alert store
// and the in-memory scheduler: it reads new alerts, hydrates the media
// types they reference, places them into the scheduler, and flushes
// buffered status updates back in bounded transactions.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/esotel/zabbix/alert"
	"github.com/esotel/zabbix/errors"
	"github.com/esotel/zabbix/logger"
	"github.com/esotel/zabbix/queue"
)

const (
	// alertTypeMessage selects message alerts; other alert types are owned
	// by other subsystems.
	alertTypeMessage = 0

	// AlertErrorLen caps the error text written to alerts.error.
	AlertErrorLen = 2048

	// flushBatchSize bounds the number of status updates written in one
	// transaction so a large backlog doesn't build an unbounded one.
	flushBatchSize = 100
)

// Store wraps the database connection owned by the manager's main loop.
type Store struct {
	db  *sql.DB
	log logger.Interface

	// firstPoll widens the very first read to also pick up alerts a
	// previous manager promoted to not-sent but never finished. Redelivery
	// after such a restart is the intended at-least-once behavior.
	firstPoll bool
}

// New creates a store over an open database handle.
func New(db *sql.DB, log logger.Interface) *Store {
	return &Store{db: db, log: log, firstPoll: true}
}

// GetAlerts reads dispatchable message alerts: status new (plus not-sent
// on the very first call), joined with their event row for pool
// derivation. Newly read new alerts are promoted to not-sent in the store
// before this returns. Every returned alert has nextsend set to now.
func (s *Store) GetAlerts(ctx context.Context, now int64) ([]*alert.Alert, error) {
	statuses := []interface{}{int(alert.StatusNew)}
	if s.firstPoll {
		statuses = append(statuses, int(alert.StatusNotSent))
	}

	query := fmt.Sprintf(
		"select a.alertid,a.mediatypeid,a.sendto,a.subject,a.message,a.status,a.retries,"+
			"e.source,e.object,e.objectid"+
			" from alerts a"+
			" left join events e on a.eventid=e.eventid"+
			" where a.alerttype=? and a.status in (%s)"+
			" order by a.alertid",
		placeholders(len(statuses)))

	args := append([]interface{}{alertTypeMessage}, statuses...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot read alerts", err)
	}
	defer rows.Close()

	var (
		alerts []*alert.Alert
		newIDs []interface{}
	)
	for rows.Next() {
		var (
			a                        alert.Alert
			sendTo, subject, message sql.NullString
			status, retries          int
			source, object, objectID sql.NullInt64
		)
		if err := rows.Scan(&a.AlertID, &a.MediaTypeID, &sendTo, &subject, &message,
			&status, &retries, &source, &object, &objectID); err != nil {
			return nil, errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot scan alert row", err)
		}
		a.SendTo = sendTo.String
		a.Subject = subject.String
		a.Message = message.String
		a.Status = alert.Status(status)
		a.Retries = retries
		a.AlertPoolID = alert.CalcAlertPoolID(int(source.Int64), int(object.Int64), uint64(objectID.Int64))
		a.NextSend = now

		alerts = append(alerts, &a)
		if a.Status == alert.StatusNew {
			newIDs = append(newIDs, a.AlertID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot read alerts", err)
	}

	if len(newIDs) > 0 {
		promote := fmt.Sprintf("update alerts set status=? where alertid in (%s)", placeholders(len(newIDs)))
		args := append([]interface{}{int(alert.StatusNotSent)}, newIDs...)
		if _, err := s.db.ExecContext(ctx, promote, args...); err != nil {
			return nil, errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot promote new alerts", err)
		}
	}

	s.firstPoll = false
	return alerts, nil
}

// UpdateMediaTypes hydrates the media types referenced by the batch into
// the scheduler's table, creating missing entries and refreshing existing
// ones in place. Rows with a malformed smtp_port are skipped; their alerts
// will be dropped at queue time for lack of a media type.
func (s *Store) UpdateMediaTypes(ctx context.Context, q *queue.Manager, alerts []*alert.Alert) error {
	if len(alerts) == 0 {
		return nil
	}

	seen := make(map[uint64]struct{}, len(alerts))
	var ids []interface{}
	for _, a := range alerts {
		if _, ok := seen[a.MediaTypeID]; ok {
			continue
		}
		seen[a.MediaTypeID] = struct{}{}
		ids = append(ids, a.MediaTypeID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].(uint64) < ids[j].(uint64) })

	query := fmt.Sprintf(
		"select mediatypeid,type,description,smtp_server,smtp_helo,smtp_email,exec_path,gsm_modem,"+
			"username,passwd,smtp_port,smtp_security,smtp_verify_peer,smtp_verify_host,"+
			"smtp_authentication,exec_params,maxsessions,maxattempts,attempt_interval"+
			" from media_type where mediatypeid in (%s)",
		placeholders(len(ids)))

	rows, err := s.db.QueryContext(ctx, query, ids...)
	if err != nil {
		return errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot read media types", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cfg                        alert.MediaType
			kind                       int
			smtpPort                   string
			verifyPeer, verifyHost     int
			description, execParams    sql.NullString
			server, helo, email        sql.NullString
			execPath, modem, user, pwd sql.NullString
		)
		if err := rows.Scan(&cfg.MediaTypeID, &kind, &description, &server, &helo, &email,
			&execPath, &modem, &user, &pwd, &smtpPort, &cfg.SMTPSecurity, &verifyPeer, &verifyHost,
			&cfg.SMTPAuthentication, &execParams, &cfg.MaxSessions, &cfg.MaxAttempts,
			&cfg.AttemptInterval); err != nil {
			return errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot scan media type row", err)
		}

		port, err := strconv.ParseUint(strings.TrimSpace(smtpPort), 10, 16)
		if err != nil {
			s.log.Warn(ctx, "skipping media type %d: malformed smtp_port %q", cfg.MediaTypeID, smtpPort)
			continue
		}

		cfg.Kind = alert.MediaKind(kind)
		cfg.Description = description.String
		cfg.SMTPServer = server.String
		cfg.SMTPHelo = helo.String
		cfg.SMTPEmail = email.String
		cfg.SMTPPort = int(port)
		cfg.SMTPVerifyPeer = verifyPeer != 0
		cfg.SMTPVerifyHost = verifyHost != 0
		cfg.ExecPath = execPath.String
		cfg.ExecParams = execParams.String
		cfg.GSMModem = modem.String
		cfg.Username = user.String
		cfg.Password = pwd.String

		q.UpsertMediaType(cfg)
	}
	return rows.Err()
}

// QueueAlerts is one poll cycle's intake: read alerts, hydrate their media
// types, and place each alert whose media type resolved into the
// scheduler. Alerts whose media type did not resolve are dropped; they
// were already promoted to not-sent and will not be re-read. Returns the
// number of alerts queued.
func (s *Store) QueueAlerts(ctx context.Context, q *queue.Manager, now int64) (int, error) {
	begin := time.Now()
	alerts, err := s.GetAlerts(ctx, now)
	if err != nil {
		return 0, err
	}

	queued := 0
	if len(alerts) > 0 {
		if err := s.UpdateMediaTypes(ctx, q, alerts); err != nil {
			return 0, err
		}

		for _, a := range alerts {
			mt, ok := q.MediaType(a.MediaTypeID)
			if !ok {
				s.log.Warn(ctx, "dropping alert %d: media type %d absent", a.AlertID, a.MediaTypeID)
				continue
			}
			pool := q.GetOrCreateAlertPool(a.MediaTypeID, a.AlertPoolID)
			q.PushAlert(pool, a)
			q.PushAlertPool(mt, pool)
			q.PushMediaType(mt)
			queued++
		}
	}

	total := int64(len(alerts))
	s.log.Trace(ctx, begin, func() (string, int64) {
		if total == 0 {
			return "queue alerts", total
		}
		return fmt.Sprintf("queue alerts (%d queued)", queued), total
	}, nil)
	return queued, nil
}

// FlushAlertUpdates writes the scheduler's buffered status updates,
// already sorted by alertid, in transactions of at most flushBatchSize
// statements each. A no-op on an empty buffer. On error the unwritten
// updates are re-buffered so the next cycle retries them.
func (s *Store) FlushAlertUpdates(ctx context.Context, q *queue.Manager) (int, error) {
	updates := q.DrainUpdates()
	if len(updates) == 0 {
		return 0, nil
	}

	flushed := 0
	for start := 0; start < len(updates); start += flushBatchSize {
		end := start + flushBatchSize
		if end > len(updates) {
			end = len(updates)
		}
		if err := s.flushBatch(ctx, updates[start:end]); err != nil {
			for _, u := range updates[start:] {
				q.BufferStatusUpdate(u)
			}
			return flushed, err
		}
		flushed += end - start
	}
	return flushed, nil
}

func (s *Store) flushBatch(ctx context.Context, batch []alert.StatusUpdate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot begin flush transaction", err)
	}

	stmt, err := tx.PrepareContext(ctx, "update alerts set status=?,retries=?,error=? where alertid=?")
	if err != nil {
		_ = tx.Rollback()
		return errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot prepare flush statement", err)
	}
	defer stmt.Close()

	for _, u := range batch {
		if _, err := stmt.ExecContext(ctx, int(u.Status), u.Retries, truncateError(u.Error), u.AlertID); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal,
				fmt.Sprintf("cannot update alert %d", u.AlertID), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.CodeDatabaseError, errors.CategoryInternal, "cannot commit flush transaction", err)
	}
	return nil
}

// truncateError caps an error message at AlertErrorLen bytes without
// splitting a rune.
func truncateError(msg string) string {
	if len(msg) <= AlertErrorLen {
		return msg
	}
	cut := AlertErrorLen
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
