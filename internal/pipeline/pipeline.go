// Package pipeline implements the ordered, copy-on-write toxic chain applied
// to one direction of one proxy.
//
// Mutations (insert/remove) are rare and come from the control plane; reads
// happen on every chunk and may block for seconds inside a Latency toxic.
// A mutex held across a traversal would stall the control plane behind a
// live Latency sleep, so writers instead publish a brand-new immutable
// slice and readers grab a cheap atomic pointer load.
package pipeline

import (
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/rom8726/faultproxy/internal/toxic"
)

// Entry pairs a toxic with the stable id it was assigned at insert time and
// the direction(s) it applies to.
type Entry struct {
	ID        string
	Direction toxic.Direction
	Toxic     toxic.Toxic
}

// Pipeline holds an ordered toxic chain for one direction tag of one proxy.
// The zero value is an empty, usable pipeline.
type Pipeline struct {
	entries atomic.Pointer[[]Entry]
}

// New returns an empty Pipeline.
func New() *Pipeline {
	p := &Pipeline{}
	empty := make([]Entry, 0)
	p.entries.Store(&empty)

	return p
}

// Snapshot returns a stable, immutable view of the current toxic chain.
// Every chunk traversal should call Snapshot once and apply against that
// slice — readers already holding a snapshot are unaffected by subsequent
// mutations: toxic-set changes need not be instantaneously visible to
// in-flight chunks.
func (p *Pipeline) Snapshot() []Entry {
	cur := p.entries.Load()
	if cur == nil {
		return nil
	}

	return *cur
}

// Apply traverses the snapshot in insertion order and invokes the matching
// direction method on every toxic whose Direction covers dir.
func (p *Pipeline) Apply(dir toxic.Direction, buf []byte, rec toxic.Recorder) {
	if rec == nil {
		rec = toxic.NopRecorder{}
	}

	for _, e := range p.Snapshot() {
		if !e.Direction.Applies(dir) {
			continue
		}

		switch dir {
		case toxic.Upstream:
			e.Toxic.ApplyUpstream(buf, rec)
		case toxic.Downstream:
			e.Toxic.ApplyDownstream(buf, rec)
		}
	}
}

// Insert appends tx at the tail of the chain under the given direction and
// returns its Entry, carrying the stable id assigned to it. Ordering policy is insertion order;
// reordering an existing chain is not supported.
func (p *Pipeline) Insert(dir toxic.Direction, tx toxic.Toxic) Entry {
	return p.InsertWithID(uuid.NewString(), dir, tx)
}

// InsertWithID is Insert with a caller-supplied id. Used for a Both-direction
// toxic, which occupies one entry in each of a proxy's two pipelines under a
// single shared id so a later delete-by-id removes it from both at once.
func (p *Pipeline) InsertWithID(id string, dir toxic.Direction, tx toxic.Toxic) Entry {
	entry := Entry{ID: id, Direction: dir, Toxic: tx}

	for {
		old := p.entries.Load()
		var cur []Entry
		if old != nil {
			cur = *old
		}
		next := make([]Entry, 0, len(cur)+1)
		next = append(next, cur...)
		next = append(next, entry)
		if p.entries.CompareAndSwap(old, &next) {
			return entry
		}
	}
}

// Remove deletes the entry with the given id. Reports whether an entry was
// found and removed.
func (p *Pipeline) Remove(id string) bool {
	for {
		old := p.entries.Load()
		if old == nil {
			return false
		}
		idx := -1
		for i, e := range *old {
			if e.ID == id {
				idx = i

				break
			}
		}
		if idx < 0 {
			return false
		}

		next := make([]Entry, 0, len(*old)-1)
		next = append(next, (*old)[:idx]...)
		next = append(next, (*old)[idx+1:]...)
		if p.entries.CompareAndSwap(old, &next) {
			return true
		}
	}
}

// Get returns the entry with the given id, if present.
func (p *Pipeline) Get(id string) (Entry, bool) {
	for _, e := range p.Snapshot() {
		if e.ID == id {
			return e, true
		}
	}

	return Entry{}, false
}

// SlowCloseDelay returns the maximum delay among any SlowClose toxics
// currently in the chain, regardless of direction. The forwarder consults
// this at EOF before half-closing the opposite connection. Zero if none is
// present.
func (p *Pipeline) SlowCloseDelay() (delay int64, has bool) {
	var maxMS int64
	for _, e := range p.Snapshot() {
		sc, ok := e.Toxic.(*toxic.SlowClose)
		if !ok {
			continue
		}
		has = true
		if ms := sc.Delay().Milliseconds(); ms > maxMS {
			maxMS = ms
		}
	}

	return maxMS, has
}
