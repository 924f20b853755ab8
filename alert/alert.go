// Package alert defines the data model the scheduling engine operates on:
// alerts, the pools that serialize them, media types, and buffered status
// updates destined for the persistent store.
package alert

import "hash/fnv"

// Status is the lifecycle state of an alert.
type Status int

const (
	StatusNew Status = iota
	StatusNotSent
	StatusSent
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusNotSent:
		return "not-sent"
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MediaKind identifies a delivery transport.
type MediaKind int

const (
	MediaEmail MediaKind = iota + 1
	MediaXMPP
	MediaSMS
	MediaTextGateway
	MediaExec
)

// Alert is one delivery attempt for one recipient on one media type.
type Alert struct {
	AlertID     uint64
	MediaTypeID uint64
	AlertPoolID uint64

	SendTo  string
	Subject string
	Message string

	Status   Status
	Retries  int
	NextSend int64 // Unix seconds, earliest time dispatch is permitted

	// seq disambiguates equal NextSend values deterministically (insertion order).
	seq uint64
}

// Seq returns the insertion sequence used to break NextSend ties.
func (a *Alert) Seq() uint64 { return a.seq }

// SetSeq is called by the scheduler to stamp insertion order each time the
// alert is pushed into its pool's heap.
func (a *Alert) SetSeq(seq uint64) { a.seq = seq }

// MediaType is a delivery channel configuration plus scheduler bookkeeping.
//
// Scheduler state (AlertsNum) is mutated only by the queue package; the
// rest is configuration hydrated by the store package.
type MediaType struct {
	MediaTypeID uint64
	Kind        MediaKind
	Description string

	// SMTP / email fields
	SMTPServer         string
	SMTPHelo           string
	SMTPEmail          string
	SMTPPort           int
	SMTPSecurity       int
	SMTPVerifyPeer     bool
	SMTPVerifyHost     bool
	SMTPAuthentication int

	// Shared credential fields (email auth, xmpp, text gateway)
	Username string
	Password string

	// SMS
	GSMModem string

	// EXEC
	ExecPath   string
	ExecParams string

	MaxSessions     int // 0 = unlimited
	MaxAttempts     int
	AttemptInterval int64 // seconds

	AlertsNum int // in-flight count; mutated only by queue package
}

// StatusUpdate is a buffered intent to write (alertid, status, retries,
// error) to the store at the next flush.
type StatusUpdate struct {
	AlertID uint64
	Status  Status
	Retries int
	Error   string
}

// PoolKey identifies an alert pool: the set of alerts sharing
// (event source, event object, event objectid) under one media type.
type PoolKey struct {
	MediaTypeID uint64
	AlertPoolID uint64
}

// CalcAlertPoolID computes a deterministic, stable 64-bit id for the pool
// an alert belongs to, from the triple (source, object, objectid). Two
// alerts computed from the same triple, in any process run, land in the
// same pool.
//
// The mixing order (objectid, then source, then object) is part of the
// on-disk compatibility contract; the exact hash is otherwise an
// implementation choice fixed for the lifetime of the deployment.
func CalcAlertPoolID(source, object int, objectID uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	putUint64(buf[:], objectID)
	_, _ = h.Write(buf[:])
	putUint64(buf[:], uint64(int64(source)))
	_, _ = h.Write(buf[:])
	putUint64(buf[:], uint64(int64(object)))
	_, _ = h.Write(buf[:])
	return h.Sum64()
}

func putUint64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * uint(i)))
	}
}
