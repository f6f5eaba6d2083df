package callbacks

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xpdacq/acq/runengine"
)

var (
	// ErrNotSaved is returned by the write verifier when a run cannot be
	// confirmed in the broker
	ErrNotSaved = errors.New("callbacks: run not confirmed in storage")
)

// Run holds the documents of one run
type Run struct {
	Start       runengine.Document
	Descriptors []runengine.Document
	Events      []runengine.Document
	Stop        runengine.Document
}

// Broker keeps every document it is given in memory, grouped by run.  It is
// concurrent safe.
type Broker struct {
	mu    sync.RWMutex
	runs  map[string]*Run
	order []string
	descs map[interface{}]string
}

// NewBroker returns an empty broker
func NewBroker() *Broker {
	return &Broker{runs: map[string]*Run{}, descs: map[interface{}]string{}}
}

// Insert is a runengine.Callback which files doc under its run
func (b *Broker) Insert(name string, doc runengine.Document) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch name {
	case runengine.DocStart:
		uid, _ := doc["uid"].(string)
		b.runs[uid] = &Run{Start: doc}
		b.order = append(b.order, uid)
	case runengine.DocDescriptor:
		uid, _ := doc["run_start"].(string)
		r, ok := b.runs[uid]
		if !ok {
			return fmt.Errorf("callbacks: descriptor for unknown run %q", uid)
		}
		r.Descriptors = append(r.Descriptors, doc)
		b.descs[doc["uid"]] = uid
	case runengine.DocEvent:
		uid, ok := b.descs[doc["descriptor"]]
		if !ok {
			return fmt.Errorf("callbacks: event for unknown descriptor %v", doc["descriptor"])
		}
		r := b.runs[uid]
		r.Events = append(r.Events, doc)
	case runengine.DocStop:
		uid, _ := doc["run_start"].(string)
		r, ok := b.runs[uid]
		if !ok {
			return fmt.Errorf("callbacks: stop for unknown run %q", uid)
		}
		r.Stop = doc
	}
	return nil
}

// Run returns the documents of the run with start uid
func (b *Broker) Run(uid string) (Run, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r, ok := b.runs[uid]
	if !ok {
		return Run{}, false
	}
	return *r, true
}

// Runs returns start uids in insertion order
func (b *Broker) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.order))
	copy(out, b.order)
	return out
}

// Find returns the start uids of runs whose start document has key == value
func (b *Broker) Find(key string, value interface{}) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []string
	for _, uid := range b.order {
		if v, ok := b.runs[uid].Start[key]; ok && v == value {
			out = append(out, uid)
		}
	}
	return out
}

// NoopVerifier accepts every run
func NoopVerifier(string, runengine.Document) error {
	return nil
}

// VerifyFilesSaved returns a stop callback that confirms the run reached b:
// its start document is present and every event counted by the stop document
// was filed.  b must be subscribed ahead of the verifier.
func VerifyFilesSaved(b *Broker) runengine.Callback {
	if b == nil {
		return NoopVerifier
	}
	return func(name string, doc runengine.Document) error {
		if name != runengine.DocStop {
			return nil
		}
		uid, _ := doc["run_start"].(string)
		r, ok := b.Run(uid)
		if !ok {
			return fmt.Errorf("%w: no start document for %q", ErrNotSaved, uid)
		}
		want := 0
		switch counts := doc["num_events"].(type) {
		case map[string]int:
			for _, n := range counts {
				want += n
			}
		case map[string]interface{}:
			for _, v := range counts {
				if n, ok := v.(int); ok {
					want += n
				}
			}
		}
		if len(r.Events) != want {
			return fmt.Errorf("%w: run %q has %d of %d events", ErrNotSaved, uid, len(r.Events), want)
		}
		return nil
	}
}
