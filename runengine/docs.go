package runengine

import (
	"errors"
	"fmt"
	"sort"

	"github.com/xpdacq/acq/plan"
)

// Document names
const (
	DocStart      = "start"
	DocDescriptor = "descriptor"
	DocEvent      = "event"
	DocStop       = "stop"

	// All subscribes to every document
	All = "all"
)

var (
	// ErrBadSubs is returned by NormalizeSubs for values it does not understand
	ErrBadSubs = errors.New("runengine: subscriptions must be a callback, a list of callbacks, or a map of document name to callbacks")
)

// Metadata is a run-level key value mapping
type Metadata map[string]interface{}

// Keys returns the sorted keys of md
func (md Metadata) Keys() []string {
	out := make([]string, 0, len(md))
	for k := range md {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Layer flattens layers into a new mapping.  When more than one layer has a
// key, the earliest layer wins.
func Layer(layers ...Metadata) Metadata {
	out := Metadata{}
	for i := len(layers) - 1; i >= 0; i-- {
		for k, v := range layers[i] {
			out[k] = v
		}
	}
	return out
}

// Document is a start, descriptor, event, or stop document
type Document map[string]interface{}

// Callback receives documents as the engine emits them.  A non-nil error
// fails the run.
type Callback func(name string, doc Document) error

// Subs maps document names (or All) to callbacks
type Subs map[string][]Callback

// Add appends cb to the callbacks for name
func (s Subs) Add(name string, cb Callback) {
	s[name] = append(s[name], cb)
}

// Merge returns a new Subs holding the callbacks of s then other
func (s Subs) Merge(other Subs) Subs {
	out := Subs{}
	for k, v := range s {
		out[k] = append(out[k], v...)
	}
	for k, v := range other {
		out[k] = append(out[k], v...)
	}
	return out
}

var validNames = map[string]bool{All: true, DocStart: true, DocDescriptor: true, DocEvent: true, DocStop: true}

// NormalizeSubs coerces the forms users commonly hand to a run into Subs.
// A bare callback or list of callbacks subscribes to All.  nil yields an
// empty Subs.
func NormalizeSubs(v interface{}) (Subs, error) {
	out := Subs{}
	switch t := v.(type) {
	case nil:
		return out, nil
	case Callback:
		if t != nil {
			out.Add(All, t)
		}
	case func(string, Document) error:
		if t != nil {
			out.Add(All, t)
		}
	case []Callback:
		for _, cb := range t {
			if cb != nil {
				out.Add(All, cb)
			}
		}
	case Subs:
		for k, cbs := range t {
			if !validNames[k] {
				return nil, fmt.Errorf("%w: unknown document name %q", ErrBadSubs, k)
			}
			for _, cb := range cbs {
				if cb != nil {
					out.Add(k, cb)
				}
			}
		}
	case map[string]Callback:
		for k, cb := range t {
			if !validNames[k] {
				return nil, fmt.Errorf("%w: unknown document name %q", ErrBadSubs, k)
			}
			if cb != nil {
				out.Add(k, cb)
			}
		}
	case map[string][]Callback:
		return NormalizeSubs(Subs(t))
	default:
		return nil, fmt.Errorf("%w, got %T", ErrBadSubs, v)
	}
	return out, nil
}

// subscription is the payload of a subscribe message
type subscription struct {
	name string
	cb   Callback
}

// SubsWrapper subscribes callbacks for the duration of p
func SubsWrapper(p plan.Plan, subs Subs) plan.Plan {
	return func(yield func(plan.Msg) bool) error {
		var tokens []interface{}
		names := make([]string, 0, len(subs))
		for name := range subs {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			for _, cb := range subs[name] {
				tok := new(int)
				tokens = append(tokens, tok)
				m := plan.Msg{
					Command: plan.Subscribe,
					Args:    []interface{}{subscription{name: name, cb: cb}, tok},
					Kwargs:  map[string]interface{}{"name": name},
				}
				if !yield(m) {
					return nil
				}
			}
		}
		stopped := false
		err := p(func(m plan.Msg) bool {
			if !yield(m) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil || stopped {
			return err
		}
		for _, tok := range tokens {
			if !yield(plan.Msg{Command: plan.Unsubscribe, Args: []interface{}{tok}}) {
				return nil
			}
		}
		return nil
	}
}
