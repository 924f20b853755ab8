package queue

import (
	"sort"

	"github.com/esotel/zabbix/alert"
	"github.com/esotel/zabbix/pqueue"
)

// RetryOutcome reports what RetryAlert did with an alert after a failed
// delivery attempt.
type RetryOutcome int

const (
	// RetryRequeued means the alert was rescheduled for a later attempt.
	RetryRequeued RetryOutcome = iota
	// RetryExhausted means the alert reached its media type's maxattempts
	// and was removed with a failed outcome.
	RetryExhausted
	// RetryOrphaned means the alert's media type was deleted out from under
	// it between dispatch and result; the alert is removed defensively.
	RetryOrphaned
)

// Manager holds the three-level scheduler plus the two flat entity tables
// (media types keyed by id, alert pools keyed by media type and pool id)
// it schedules over.
type Manager struct {
	mediaTypes map[uint64]*MediaType
	alertPools map[alert.PoolKey]*AlertPool
	queue      *pqueue.DirectHeap[*MediaType]

	updates map[uint64]*alert.StatusUpdate
	seq     uint64
}

// NewManager creates an empty scheduler.
func NewManager() *Manager {
	return &Manager{
		mediaTypes: make(map[uint64]*MediaType),
		alertPools: make(map[alert.PoolKey]*AlertPool),
		queue:      pqueue.NewDirectHeap(mediaTypeKeyOf, lessMediaType),
		updates:    make(map[uint64]*alert.StatusUpdate),
	}
}

// MediaType returns the media type registered under id, if any.
func (m *Manager) MediaType(id uint64) (*MediaType, bool) {
	mt, ok := m.mediaTypes[id]
	return mt, ok
}

// UpsertMediaType creates a media type the first time its id is seen, or
// updates its configuration in place on subsequent calls, preserving the
// scheduler state (in-flight count, queue placement, pool heap): a
// configuration refresh must never reset how many deliveries are already
// out with workers.
func (m *Manager) UpsertMediaType(cfg alert.MediaType) *MediaType {
	mt, ok := m.mediaTypes[cfg.MediaTypeID]
	if !ok {
		mt = newMediaType(cfg)
		m.mediaTypes[cfg.MediaTypeID] = mt
		return mt
	}
	cfg.AlertsNum = mt.Config.AlertsNum
	mt.Config = cfg
	return mt
}

// GetOrCreateAlertPool returns the pool for (mediaTypeID, alertPoolID),
// creating it if this is the first alert seen for that key.
func (m *Manager) GetOrCreateAlertPool(mediaTypeID, alertPoolID uint64) *AlertPool {
	key := alert.PoolKey{MediaTypeID: mediaTypeID, AlertPoolID: alertPoolID}
	pool, ok := m.alertPools[key]
	if !ok {
		pool = newAlertPool(key)
		m.alertPools[key] = pool
	}
	return pool
}

// PushAlert inserts a into pool's own alert heap. The pool's alert heap
// never re-sifts an already-queued alert in place: a retried alert is
// re-inserted fresh with its new nextsend.
func (m *Manager) PushAlert(pool *AlertPool, a *alert.Alert) {
	m.seq++
	a.SetSeq(m.seq)
	pool.Heap.Insert(a)
}

// PushAlertPool places pool into mt's alert-pool heap: inserting it if it
// was not queued, re-sifting it if it already was. The caller must only
// call this after changing the pool's alert heap, and only while that
// heap is non-empty.
func (m *Manager) PushAlertPool(mt *MediaType, pool *AlertPool) {
	if pool.Location == NotQueued {
		mt.PoolHeap.Insert(pool)
		pool.Location = Queued
	} else {
		mt.PoolHeap.Update(pool)
	}
}

// PushMediaType places mt into the manager queue: a no-op if mt's pool
// heap is empty (nothing to schedule), otherwise an insert (subject to
// the maxsessions cap) if mt was not queued, or a re-sift if it already
// was.
func (m *Manager) PushMediaType(mt *MediaType) {
	if mt.PoolHeap.Empty() {
		return
	}
	if mt.Location == NotQueued {
		if mt.Config.MaxSessions == 0 || mt.Config.AlertsNum < mt.Config.MaxSessions {
			m.queue.Insert(mt)
			mt.Location = Queued
		}
		return
	}
	m.queue.Update(mt)
}

// PopMediaType removes and returns the earliest-ready media type from the
// manager queue.
func (m *Manager) PopMediaType() (*MediaType, bool) {
	mt, ok := m.queue.PopMin()
	if !ok {
		return nil, false
	}
	mt.Location = NotQueued
	return mt, true
}

// PopAlertPool removes and returns the earliest-ready alert pool from mt's
// pool heap.
func (m *Manager) PopAlertPool(mt *MediaType) (*AlertPool, bool) {
	pool, ok := mt.PoolHeap.PopMin()
	if !ok {
		return nil, false
	}
	pool.Location = NotQueued
	return pool, true
}

// PopAlert is the composite dispatch entry point: pop the earliest media
// type, pop its earliest pool, pop that pool's earliest alert, account
// for the new in-flight delivery, and (if the media type is still under
// its concurrency cap) re-push it so the next call can find another of
// its pools. The popped pool itself is never re-pushed here: at most one
// alert per pool is ever in flight.
func (m *Manager) PopAlert() (*alert.Alert, bool) {
	mt, ok := m.PopMediaType()
	if !ok {
		return nil, false
	}
	pool, ok := m.PopAlertPool(mt)
	if !ok {
		return nil, false
	}
	a, ok := pool.Heap.PopMin()
	if !ok {
		return nil, false
	}
	mt.Config.AlertsNum++
	if mt.Config.MaxSessions == 0 || mt.Config.AlertsNum < mt.Config.MaxSessions {
		m.PushMediaType(mt)
	}
	return a, true
}

// RemoveAlert accounts for a completed delivery (successful or not) by
// decrementing the media type's in-flight count and either destroying or
// re-queuing the alert's pool and media type. The pool is looked up, not
// recreated: it must still exist, since a is the alert we just popped
// from it.
func (m *Manager) RemoveAlert(a *alert.Alert) {
	mt, ok := m.mediaTypes[a.MediaTypeID]
	if !ok {
		return
	}
	mt.Config.AlertsNum--

	key := alert.PoolKey{MediaTypeID: a.MediaTypeID, AlertPoolID: a.AlertPoolID}
	if pool, ok := m.alertPools[key]; ok {
		if pool.Heap.Empty() {
			delete(m.alertPools, key)
		} else {
			m.PushAlertPool(mt, pool)
		}
	}

	if mt.PoolHeap.Empty() && mt.Config.AlertsNum == 0 {
		delete(m.mediaTypes, mt.Config.MediaTypeID)
	} else {
		m.PushMediaType(mt)
	}
}

// RetryAlert applies the fixed-interval retry/outcome state machine: it
// increments the attempt counter and either removes the alert as
// exhausted, or reschedules it attempt_interval seconds out and
// re-queues its pool and media type. If the alert's media type has
// already been deleted (a defensive case that should not arise under
// normal operation), the alert is removed outright.
func (m *Manager) RetryAlert(a *alert.Alert, now int64) RetryOutcome {
	mt, ok := m.mediaTypes[a.MediaTypeID]
	if !ok {
		m.RemoveAlert(a)
		return RetryOrphaned
	}

	a.Retries++
	if a.Retries >= mt.Config.MaxAttempts {
		m.RemoveAlert(a)
		return RetryExhausted
	}

	a.NextSend = now + mt.Config.AttemptInterval
	mt.Config.AlertsNum--

	pool := m.GetOrCreateAlertPool(a.MediaTypeID, a.AlertPoolID)
	m.PushAlert(pool, a)
	m.PushAlertPool(mt, pool)
	m.PushMediaType(mt)
	return RetryRequeued
}

// CheckQueue reports whether the manager queue has an alert ready to
// dispatch at or before now, without popping anything.
func (m *Manager) CheckQueue(now int64) bool {
	mt, ok := m.queue.PeekMin()
	if !ok {
		return false
	}
	pool, ok := mt.PoolHeap.PeekMin()
	if !ok {
		return false
	}
	a, ok := pool.Heap.PeekMin()
	if !ok {
		return false
	}
	return a.NextSend <= now
}

// BufferStatusUpdate records a pending status/retries/error write for an
// alert, coalescing repeated updates to the same alertid: only the final
// outcome reaches the store.
func (m *Manager) BufferStatusUpdate(u alert.StatusUpdate) {
	m.updates[u.AlertID] = &u
}

// DrainUpdates removes and returns all buffered status updates sorted by
// alertid, giving the flush a deterministic write order.
func (m *Manager) DrainUpdates() []alert.StatusUpdate {
	if len(m.updates) == 0 {
		return nil
	}
	out := make([]alert.StatusUpdate, 0, len(m.updates))
	for _, u := range m.updates {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AlertID < out[j].AlertID })
	m.updates = make(map[uint64]*alert.StatusUpdate)
	return out
}

// Close drains every alert PopAlert can reach, removing it from the
// scheduler without a delivery attempt, and reports how many were dropped.
// Alerts waiting behind an in-flight delivery (in a pool whose alert is
// still out with a worker, or under a media type at its maxsessions cap)
// are not reached, and neither are the in-flight alerts themselves; they
// stay in the tables and are not counted. Used on shutdown; the database
// rows themselves are untouched and will be re-read on the next start's
// first poll.
func (m *Manager) Close() int {
	count := 0
	for {
		a, ok := m.PopAlert()
		if !ok {
			break
		}
		m.RemoveAlert(a)
		count++
	}
	return count
}
