/*Package xrun dispatches plans against the beamline.

CustomizedRunEngine wraps a run engine with the beamline conventions: sample
metadata is merged into every run, the selected shutter is opened before the
plan and closed after it, a dark image is taken when none recent enough
exists, and the write verifier can be attached on request.
*/
package xrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xpdacq/acq/beamline"
	"github.com/xpdacq/acq/beamtime"
	"github.com/xpdacq/acq/callbacks"
	"github.com/xpdacq/acq/plan"
	"github.com/xpdacq/acq/runengine"
	"github.com/xpdacq/acq/util"
)

var (
	// ErrDarkNeedsScanPlan is returned when auto dark is requested for a plan
	// that cannot be built a second time
	ErrDarkNeedsScanPlan = errors.New("xrun: auto dark needs a ScanPlan, a bare plan cannot be replayed")

	// ErrInvalidDarkWindow is returned when auto dark is requested with a
	// non-positive window
	ErrInvalidDarkWindow = errors.New("xrun: dark window must be positive")

	// ErrBadSample is returned for a sample that is neither a
	// beamtime.MetadataSource nor a metadata mapping
	ErrBadSample = errors.New("xrun: sample must be a metadata source or a mapping")

	// ErrBadPlan is returned for a plan that is neither a plan.Plan nor a
	// *beamtime.ScanPlan
	ErrBadPlan = errors.New("xrun: plan must be a plan.Plan or a *beamtime.ScanPlan")
)

// KeyCollisionError is returned when extra metadata names keys the sample
// already carries
type KeyCollisionError struct {
	// Keys are the colliding keys, sorted
	Keys []string
}

func (e *KeyCollisionError) Error() string {
	return fmt.Sprintf("xrun: these keys in extra metadata are illegal because they are always in sample: [%s]",
		strings.Join(e.Keys, ", "))
}

// Options modify a single dispatch
type Options struct {
	// RaiseIfInterrupted returns runengine.ErrInterrupted when ctx ends the run early
	RaiseIfInterrupted bool

	// VerifyWrite attaches the write verifier to stop documents
	VerifyWrite bool

	// AutoDark takes a dark image ahead of the plan when no matching dark
	// was taken within DarkWindow
	AutoDark bool

	// DarkWindow is how long a dark stays usable
	DarkWindow time.Duration
}

// DefaultOptions has auto dark on with a 3000 minute window
func DefaultOptions() Options {
	return Options{AutoDark: true, DarkWindow: 3000 * time.Minute}
}

// CustomizedRunEngine dispatches plans through Engine using the state held
// in Beamline
type CustomizedRunEngine struct {
	// Engine executes the composed plan
	Engine runengine.Engine

	// Beamline provides the shutter, detector, and dark ledger
	Beamline *beamline.Context

	// Broker, if not nil, receives every document and backs the write verifier
	Broker *callbacks.Broker

	// Metrics, if not nil, are updated on every dispatch
	Metrics *Metrics

	// Logger is slog.Default() if nil
	Logger *slog.Logger

	// Now is time.Now if nil
	Now func() time.Time
}

// New returns a dispatcher over engine and bl
func New(engine runengine.Engine, bl *beamline.Context, logger *slog.Logger) *CustomizedRunEngine {
	return &CustomizedRunEngine{Engine: engine, Beamline: bl, Logger: logger}
}

func (c *CustomizedRunEngine) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *CustomizedRunEngine) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func sampleMD(sample interface{}) (runengine.Metadata, error) {
	switch s := sample.(type) {
	case beamtime.MetadataSource:
		if v := reflect.ValueOf(s); v.Kind() == reflect.Ptr && v.IsNil() {
			return nil, fmt.Errorf("%w, got nil %T", ErrBadSample, sample)
		}
		return s.MD(), nil
	case runengine.Metadata:
		return s, nil
	case map[string]interface{}:
		return s, nil
	}
	return nil, fmt.Errorf("%w, got %T", ErrBadSample, sample)
}

// Run executes p on the beamline with sample metadata.
//
// sample is a beamtime.MetadataSource or a metadata mapping.  p is a
// plan.Plan or a *beamtime.ScanPlan.  subs is anything
// runengine.NormalizeSubs accepts.  extra is additional run metadata; it may
// not repeat a sample key.
//
// The selected shutter is opened before p and closed after it.  If p fails,
// the shutter is left as p left it.  Run returns the uids of the runs the
// engine opened.
//
// With opts.AutoDark set, as in DefaultOptions, p must be a
// *beamtime.ScanPlan; a bare plan.Plan cannot be rebuilt for the dark and
// fails with ErrDarkNeedsScanPlan.  Dispatch bare plans with AutoDark false.
func (c *CustomizedRunEngine) Run(ctx context.Context, sample interface{}, p interface{}, subs interface{}, opts Options, extra runengine.Metadata) ([]string, error) {
	uids, err := c.run(ctx, sample, p, subs, opts, extra)
	if err != nil && c.Metrics != nil {
		c.Metrics.Failed.Inc()
	}
	return uids, err
}

func (c *CustomizedRunEngine) run(ctx context.Context, sample interface{}, p interface{}, subs interface{}, opts Options, extra runengine.Metadata) ([]string, error) {
	s, err := runengine.NormalizeSubs(subs)
	if err != nil {
		return nil, err
	}
	smd, err := sampleMD(sample)
	if err != nil {
		return nil, err
	}
	if opts.VerifyWrite {
		s.Add(runengine.DocStop, callbacks.VerifyFilesSaved(c.Broker))
	}
	if keys := util.SortedIntersection(smd, extra); len(keys) > 0 {
		return nil, &KeyCollisionError{Keys: keys}
	}
	md := runengine.Layer(smd, extra)

	var (
		body plan.Plan
		sp   *beamtime.ScanPlan
	)
	switch t := p.(type) {
	case *beamtime.ScanPlan:
		sp = t
		body, err = t.Factory(c.Beamline)
		if err != nil {
			return nil, err
		}
	case plan.Plan:
		body = t
	case func(func(plan.Msg) bool) error:
		body = t
	default:
		return nil, fmt.Errorf("%w, got %T", ErrBadPlan, p)
	}
	if body == nil {
		return nil, fmt.Errorf("%w, got nil", ErrBadPlan)
	}

	sh, err := c.Beamline.ShutterDevice()
	if err != nil {
		return nil, err
	}

	var dark plan.Plan
	if opts.AutoDark {
		var rec *darkRecorder
		dark, rec, err = c.darkFor(sp, sh, opts.DarkWindow)
		if err != nil {
			return nil, err
		}
		body = plan.Annotate(body, map[string]interface{}{"sc_dk_field_uid": rec.dark.UID})
		if dark != nil {
			s.Add(runengine.All, rec.Callback)
		}
	}

	full := plan.Chain(dark, plan.AbsSet(sh, 1), body, plan.AbsSet(sh, 0))

	if c.Broker != nil {
		s = runengine.Subs{runengine.All: {c.Broker.Insert}}.Merge(s)
	}
	if c.Metrics != nil {
		s.Add(runengine.All, c.Metrics.Callback)
		c.Metrics.Dispatched.Inc()
	}
	attrs := []interface{}{"shutter", sh.Name(), "auto_dark", opts.AutoDark, "verify_write", opts.VerifyWrite}
	if sp != nil {
		attrs = append(attrs, "plan", sp.Key())
	}
	c.logger().Info("dispatching run", attrs...)
	return c.Engine.Run(ctx, full, s, md, opts.RaiseIfInterrupted)
}

// darkFor returns the dark plan to run ahead of sp, or nil when a recent
// enough dark exists.  The recorder carries the dark to reference either way.
func (c *CustomizedRunEngine) darkFor(sp *beamtime.ScanPlan, sh plan.Named, window time.Duration) (plan.Plan, *darkRecorder, error) {
	if sp == nil {
		return nil, nil, ErrDarkNeedsScanPlan
	}
	if window <= 0 {
		return nil, nil, fmt.Errorf("%w, got %v", ErrInvalidDarkWindow, window)
	}
	key := sp.Key()
	frameTime := c.Beamline.FrameAcqTime()
	now := c.now()
	if d, ok := c.Beamline.FindDark(key, frameTime, now, window); ok {
		c.logger().Debug("reusing dark", "key", key, "frame_time", frameTime, "uid", d.UID, "taken", d.Taken)
		return nil, &darkRecorder{dark: d}, nil
	}
	p, err := sp.Factory(c.Beamline)
	if err != nil {
		return nil, nil, err
	}
	rec := &darkRecorder{
		bl:   c.Beamline,
		dark: beamline.Dark{UID: uuid.NewString(), Key: key, FrameAcqTime: frameTime, Taken: now},
	}
	if c.Metrics != nil {
		c.Metrics.Darks.Inc()
	}
	c.logger().Info("taking dark", "key", key, "frame_time", frameTime, "uid", rec.dark.UID)
	dark := plan.Chain(
		plan.AbsSet(sh, 0),
		plan.Annotate(p, map[string]interface{}{"dark_frame": true, "dark_uid": rec.dark.UID}),
	)
	return dark, rec, nil
}

// darkRecorder files its dark in the beamline ledger once the dark run
// stops successfully
type darkRecorder struct {
	bl     *beamline.Context
	dark   beamline.Dark
	runUID string
}

func (r *darkRecorder) Callback(name string, doc runengine.Document) error {
	switch name {
	case runengine.DocStart:
		if doc["dark_uid"] == r.dark.UID {
			r.runUID, _ = doc["uid"].(string)
		}
	case runengine.DocStop:
		if r.runUID != "" && doc["run_start"] == r.runUID && doc["exit_status"] == runengine.ExitSuccess {
			r.bl.RecordDark(r.dark)
		}
	}
	return nil
}
