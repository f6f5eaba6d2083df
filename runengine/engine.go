/*Package runengine executes plans.

The engine interprets plan messages against the device interfaces and emits
documents (start, descriptor, event, stop) to subscribed callbacks.  It is the
minimal in-process engine needed to drive plans from Go; interruption is
expressed with a context.Context.

A run fails as soon as a device, the plan, or a callback returns an error.
Errors are returned unchanged; the engine never retries.
*/
package runengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xpdacq/acq/device"
	"github.com/xpdacq/acq/plan"
)

var (
	// ErrInterrupted is returned when a run is interrupted and the caller
	// asked for interruptions to be raised
	ErrInterrupted = errors.New("runengine: run interrupted")

	// ErrRunOpen is returned for an open_run while a run is already open
	ErrRunOpen = errors.New("runengine: a run is already open")

	// ErrNoRun is returned for run-scoped messages outside of a run
	ErrNoRun = errors.New("runengine: no open run")

	// ErrNoBundle is returned for read or save without a preceding create
	ErrNoBundle = errors.New("runengine: no open event bundle")

	// ErrUnsupported is returned when a message targets an object that
	// cannot do what the message asks
	ErrUnsupported = errors.New("runengine: object does not support command")
)

// Exit statuses recorded in stop documents
const (
	ExitSuccess = "success"
	ExitFail    = "fail"
	ExitAbort   = "abort"
)

// Engine executes a plan.  md is run-level metadata, placed under whatever
// metadata the plan itself attaches to open_run.  It returns the uids of the
// runs it opened.
type Engine interface {
	Run(ctx context.Context, p plan.Plan, subs Subs, md Metadata, raiseIfInterrupted bool) ([]string, error)
}

// RunEngine is an Engine which drives device interfaces directly.  Runs are
// serialized, a second Run blocks until the first returns.
type RunEngine struct {
	// MD is metadata placed under every run
	MD Metadata

	// Logger receives debug messages, slog.Default() if nil
	Logger *slog.Logger

	mu     sync.Mutex
	scanID int
}

// New returns a RunEngine with empty persistent metadata
func New(logger *slog.Logger) *RunEngine {
	return &RunEngine{MD: Metadata{}, Logger: logger}
}

var _ Engine = (*RunEngine)(nil)

func (re *RunEngine) logger() *slog.Logger {
	if re.Logger == nil {
		return slog.Default()
	}
	return re.Logger
}

func docTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// execution is the state of one call to Run
type execution struct {
	re      *RunEngine
	subs    Subs
	callMD  Metadata
	planSub map[interface{}]subscription
	order   []interface{}
	uids    []string

	runUID      string
	open        bool
	descriptors map[string]Document
	seq         map[string]int
	bundle      map[string]device.Reading
	sources     map[string]string
	bundleName  string
}

// Run executes p, see Engine
func (re *RunEngine) Run(ctx context.Context, p plan.Plan, subs Subs, md Metadata, raiseIfInterrupted bool) ([]string, error) {
	re.mu.Lock()
	defer re.mu.Unlock()

	ex := &execution{
		re:      re,
		subs:    subs,
		callMD:  md,
		planSub: map[interface{}]subscription{},
	}

	var (
		procErr     error
		interrupted bool
	)
	planErr := p(func(m plan.Msg) bool {
		if ctx.Err() != nil {
			interrupted = true
			return false
		}
		if err := ex.process(m); err != nil {
			procErr = err
			return false
		}
		return true
	})
	if procErr == nil {
		procErr = planErr
	}

	switch {
	case interrupted:
		re.logger().Info("run interrupted", "uids", ex.uids, "reason", ctx.Err())
		if ex.open {
			ex.closeRun(ExitAbort, fmt.Sprint(ctx.Err()))
		}
		if raiseIfInterrupted {
			return ex.uids, fmt.Errorf("%w: %v", ErrInterrupted, ctx.Err())
		}
		return ex.uids, nil
	case procErr != nil:
		if ex.open {
			ex.closeRun(ExitFail, procErr.Error())
		}
		return ex.uids, procErr
	}
	if ex.open {
		if err := ex.closeRun(ExitSuccess, ""); err != nil {
			return ex.uids, err
		}
	}
	return ex.uids, nil
}

func (ex *execution) emit(name string, doc Document) error {
	for _, cb := range ex.subs[All] {
		if err := cb(name, doc); err != nil {
			return err
		}
	}
	for _, cb := range ex.subs[name] {
		if err := cb(name, doc); err != nil {
			return err
		}
	}
	for _, tok := range ex.order {
		s, ok := ex.planSub[tok]
		if !ok || (s.name != All && s.name != name) {
			continue
		}
		if err := s.cb(name, doc); err != nil {
			return err
		}
	}
	return nil
}

func (ex *execution) process(m plan.Msg) error {
	switch m.Command {
	case plan.OpenRun:
		return ex.openRun(m)
	case plan.CloseRun:
		if !ex.open {
			return ErrNoRun
		}
		return ex.closeRun(ExitSuccess, "")
	case plan.Set:
		s, ok := m.Obj.(device.Settable)
		if !ok || len(m.Args) == 0 {
			return fmt.Errorf("%w: set on %v", ErrUnsupported, objName(m.Obj))
		}
		v, err := toFloat(m.Args[0])
		if err != nil {
			return err
		}
		return s.Set(v)
	case plan.Trigger:
		if t, ok := m.Obj.(device.Triggerable); ok {
			return t.Trigger()
		}
		return nil
	case plan.Create:
		if !ex.open {
			return ErrNoRun
		}
		ex.bundleName = "primary"
		if n, ok := m.Kwargs["name"].(string); ok && n != "" {
			ex.bundleName = n
		}
		ex.bundle = map[string]device.Reading{}
		ex.sources = map[string]string{}
		return nil
	case plan.Read:
		if ex.bundle == nil {
			return ErrNoBundle
		}
		r, ok := m.Obj.(device.Readable)
		if !ok {
			return fmt.Errorf("%w: read on %v", ErrUnsupported, objName(m.Obj))
		}
		readings, err := r.Read()
		if err != nil {
			return err
		}
		for k, v := range readings {
			ex.bundle[k] = v
			ex.sources[k] = r.Name()
		}
		return nil
	case plan.Save:
		if ex.bundle == nil {
			return ErrNoBundle
		}
		return ex.save()
	case plan.Subscribe:
		if len(m.Args) < 2 {
			return fmt.Errorf("%w: subscribe needs a callback and a token", ErrUnsupported)
		}
		s, ok := m.Args[0].(subscription)
		if !ok {
			return fmt.Errorf("%w: subscribe with %T", ErrUnsupported, m.Args[0])
		}
		ex.planSub[m.Args[1]] = s
		ex.order = append(ex.order, m.Args[1])
		return nil
	case plan.Unsubscribe:
		if len(m.Args) > 0 {
			delete(ex.planSub, m.Args[0])
		}
		return nil
	case plan.Checkpoint:
		return nil
	}
	return fmt.Errorf("%w: unknown command %q", ErrUnsupported, m.Command)
}

func (ex *execution) openRun(m plan.Msg) error {
	if ex.open {
		return ErrRunOpen
	}
	ex.re.scanID++
	md := Layer(Metadata(m.Kwargs), ex.callMD, ex.re.MD)
	doc := Document{}
	for k, v := range md {
		doc[k] = v
	}
	ex.runUID = uuid.NewString()
	doc["uid"] = ex.runUID
	doc["time"] = docTime()
	doc["scan_id"] = ex.re.scanID
	ex.open = true
	ex.descriptors = map[string]Document{}
	ex.seq = map[string]int{}
	ex.uids = append(ex.uids, ex.runUID)
	ex.re.logger().Debug("run opened", "uid", ex.runUID, "scan_id", ex.re.scanID)
	return ex.emit(DocStart, doc)
}

func (ex *execution) closeRun(status, reason string) error {
	ex.open = false
	ex.bundle = nil
	counts := map[string]int{}
	for k, v := range ex.seq {
		counts[k] = v
	}
	doc := Document{
		"uid":         uuid.NewString(),
		"run_start":   ex.runUID,
		"time":        docTime(),
		"exit_status": status,
		"reason":      reason,
		"num_events":  counts,
	}
	ex.re.logger().Debug("run closed", "uid", ex.runUID, "exit_status", status)
	err := ex.emit(DocStop, doc)
	if err != nil && status != ExitSuccess {
		ex.re.logger().Error("callback failed on stop document", "uid", ex.runUID, "err", err)
	}
	return err
}

func (ex *execution) save() error {
	name := ex.bundleName
	fields := make([]string, 0, len(ex.bundle))
	for k := range ex.bundle {
		fields = append(fields, k)
	}
	sort.Strings(fields)

	desc, ok := ex.descriptors[name]
	if !ok {
		keys := map[string]interface{}{}
		objKeys := map[string][]string{}
		for _, f := range fields {
			keys[f] = map[string]interface{}{"source": ex.sources[f], "dtype": dtype(ex.bundle[f].Value)}
			objKeys[ex.sources[f]] = append(objKeys[ex.sources[f]], f)
		}
		desc = Document{
			"uid":         uuid.NewString(),
			"run_start":   ex.runUID,
			"time":        docTime(),
			"name":        name,
			"data_keys":   keys,
			"object_keys": objKeys,
		}
		ex.descriptors[name] = desc
		if err := ex.emit(DocDescriptor, desc); err != nil {
			return err
		}
	}
	data := map[string]interface{}{}
	stamps := map[string]interface{}{}
	for _, f := range fields {
		data[f] = ex.bundle[f].Value
		stamps[f] = ex.bundle[f].Timestamp
	}
	ex.seq[name]++
	ev := Document{
		"uid":        uuid.NewString(),
		"descriptor": desc["uid"],
		"seq_num":    ex.seq[name],
		"time":       docTime(),
		"data":       data,
		"timestamps": stamps,
	}
	ex.bundle = nil
	return ex.emit(DocEvent, ev)
}

func objName(o plan.Named) string {
	if o == nil {
		return "None"
	}
	return o.Name()
}

func dtype(v interface{}) string {
	switch v.(type) {
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int32, int64, uint, uint16, uint32, uint64, float32, float64:
		return "number"
	}
	return "array"
}

func toFloat(v interface{}) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case bool:
		if t {
			return 1, nil
		}
		return 0, nil
	}
	return 0, fmt.Errorf("%w: cannot set a device to %T", ErrUnsupported, v)
}
