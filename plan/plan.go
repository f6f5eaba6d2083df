package plan

import (
	"errors"
	"sync/atomic"
)

var (
	// ErrExhausted is returned when a single-pass plan is iterated again
	ErrExhausted = errors.New("plan: already consumed, build a new one")
)

// Plan is a lazy, finite sequence of messages.  Iterating it calls yield once
// per message, in order.  When yield returns false the plan must stop yielding
// and return nil.  A non-nil error aborts the sequence, e.g. when a device the
// plan configures refuses a value.
type Plan func(yield func(Msg) bool) error

// Of returns a plan which yields msgs verbatim
func Of(msgs ...Msg) Plan {
	return func(yield func(Msg) bool) error {
		for _, m := range msgs {
			if !yield(m) {
				return nil
			}
		}
		return nil
	}
}

// AbsSet sets obj to value
func AbsSet(obj Named, value interface{}) Plan {
	return Of(Msg{Command: Set, Obj: obj, Args: []interface{}{value}})
}

// Chain runs plans one after another.  It is plain sequential composition:
// if one plan fails, the plans after it are not run.
func Chain(plans ...Plan) Plan {
	return func(yield func(Msg) bool) error {
		stopped := false
		inner := func(m Msg) bool {
			if !yield(m) {
				stopped = true
				return false
			}
			return true
		}
		for _, p := range plans {
			if p == nil {
				continue
			}
			if err := p(inner); err != nil {
				return err
			}
			if stopped {
				return nil
			}
		}
		return nil
	}
}

// Count takes num readings from every detector in one run.  md becomes the
// run metadata.
func Count(dets []Named, num int, md map[string]interface{}) Plan {
	if num < 1 {
		num = 1
	}
	return func(yield func(Msg) bool) error {
		kw := make(map[string]interface{}, len(md)+3)
		for k, v := range md {
			kw[k] = v
		}
		names := make([]string, len(dets))
		for i, d := range dets {
			names[i] = d.Name()
		}
		if _, ok := kw["detectors"]; !ok {
			kw["detectors"] = names
		}
		if _, ok := kw["num_points"]; !ok {
			kw["num_points"] = num
		}
		if _, ok := kw["plan_name"]; !ok {
			kw["plan_name"] = "count"
		}
		if !yield(Msg{Command: OpenRun, Kwargs: kw}) {
			return nil
		}
		for i := 0; i < num; i++ {
			if !yield(Msg{Command: Checkpoint}) {
				return nil
			}
			for _, d := range dets {
				if !yield(Msg{Command: Trigger, Obj: d}) {
					return nil
				}
			}
			if !yield(Msg{Command: Create, Kwargs: map[string]interface{}{"name": "primary"}}) {
				return nil
			}
			for _, d := range dets {
				if !yield(Msg{Command: Read, Obj: d}) {
					return nil
				}
			}
			if !yield(Msg{Command: Save}) {
				return nil
			}
		}
		yield(Msg{Command: CloseRun})
		return nil
	}
}

// Once wraps p so that it can only be iterated a single time.  Later
// iterations fail with ErrExhausted.
func Once(p Plan) Plan {
	var used int32
	return func(yield func(Msg) bool) error {
		if !atomic.CompareAndSwapInt32(&used, 0, 1) {
			return ErrExhausted
		}
		return p(yield)
	}
}

// Messages drains p into a slice
func Messages(p Plan) ([]Msg, error) {
	var out []Msg
	err := p(func(m Msg) bool {
		out = append(out, m)
		return true
	})
	return out, err
}

// Annotate layers md over the metadata of every run p opens.  Keys in md win.
func Annotate(p Plan, md map[string]interface{}) Plan {
	if len(md) == 0 {
		return p
	}
	return func(yield func(Msg) bool) error {
		return p(func(m Msg) bool {
			if m.Command == OpenRun {
				kw := make(map[string]interface{}, len(m.Kwargs)+len(md))
				for k, v := range m.Kwargs {
					kw[k] = v
				}
				for k, v := range md {
					kw[k] = v
				}
				m.Kwargs = kw
			}
			return yield(m)
		})
	}
}
