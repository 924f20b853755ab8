// Package queue implements the three-level scheduler at the heart of alert
// dispatch: a manager queue of media types, each media type's queue of
// alert pools, each alert pool's queue of alerts. The placement and
// removal rules keep the dispatch loop always handing out the
// earliest-ready alert while honoring per-pool serialization and
// per-media-type concurrency caps.
//
// The manager is not safe for concurrent use. Dispatch is a
// single-threaded event loop, and every operation here is a synchronous
// state transition between the loop's one suspension point.
package queue

import (
	"github.com/esotel/zabbix/alert"
	"github.com/esotel/zabbix/pqueue"
)

// Location mirrors the pool/media-type placement state machine: an entity
// is queued in its parent exactly when non-empty and not the one currently
// being dispatched.
type Location int

const (
	NotQueued Location = iota
	Queued
)

// AlertPool serializes alerts that share (event source, event object,
// event objectid) under one media type: at most one alert from a pool is
// ever in flight.
type AlertPool struct {
	Key      alert.PoolKey
	Heap     *pqueue.PlainHeap[*alert.Alert]
	Location Location
}

func newAlertPool(key alert.PoolKey) *AlertPool {
	return &AlertPool{
		Key:      key,
		Heap:     pqueue.NewPlainHeap(lessAlert),
		Location: NotQueued,
	}
}

// MediaType pairs a delivery channel's configuration with its scheduler
// bookkeeping (the alert-pool heap, in-flight count, manager-queue
// placement).
type MediaType struct {
	Config   alert.MediaType
	PoolHeap *pqueue.DirectHeap[*AlertPool]
	Location Location
}

func newMediaType(cfg alert.MediaType) *MediaType {
	return &MediaType{
		Config:   cfg,
		PoolHeap: pqueue.NewDirectHeap(poolKeyOf, lessAlertPool),
		Location: NotQueued,
	}
}

func poolKeyOf(p *AlertPool) uint64 { return p.Key.AlertPoolID }
func mediaTypeKeyOf(m *MediaType) uint64 { return m.Config.MediaTypeID }

// lessAlert orders alerts by nextsend, breaking ties by insertion order so
// pool ordering is deterministic.
func lessAlert(a, b *alert.Alert) bool {
	if a.NextSend != b.NextSend {
		return a.NextSend < b.NextSend
	}
	return a.Seq() < b.Seq()
}

// lessAlertPool orders alert pools by the nextsend of their current
// minimum alert. It dereferences the pool's heap on every comparison
// rather than caching a key, per the design notes' warning against caching
// a child's minimum inside the parent.
func lessAlertPool(a, b *AlertPool) bool {
	aa, _ := a.Heap.PeekMin()
	bb, _ := b.Heap.PeekMin()
	return lessAlert(aa, bb)
}

// lessMediaType orders media types by the nextsend of their minimum pool's
// minimum alert.
func lessMediaType(a, b *MediaType) bool {
	pa, _ := a.PoolHeap.PeekMin()
	pb, _ := b.PoolHeap.PeekMin()
	return lessAlertPool(pa, pb)
}
