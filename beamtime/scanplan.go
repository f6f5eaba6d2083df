package beamtime

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/xpdacq/acq/beamline"
	"github.com/xpdacq/acq/device"
	"github.com/xpdacq/acq/plan"
	"github.com/xpdacq/acq/runengine"
)

// ErrBadArgs is returned by a PlanFunc given arguments it cannot use
var ErrBadArgs = errors.New("beamtime: bad plan arguments")

// PlanFunc builds a plan against det.  args and kwargs are the values stored
// in a ScanPlan.
type PlanFunc func(bl *beamline.Context, det device.AreaDetector, args []interface{}, kwargs map[string]interface{}) (plan.Plan, error)

// ScanPlan describes a plan without building it.  It can be materialized any
// number of times; every Factory call builds a fresh plan against the
// beamline's current detector.  A ScanPlan is immutable.
type ScanPlan struct {
	name   string
	fn     PlanFunc
	args   []interface{}
	kwargs map[string]interface{}
}

// NewScanPlan captures fn with its arguments.  args and kwargs are copied.
func NewScanPlan(name string, fn PlanFunc, args []interface{}, kwargs map[string]interface{}) *ScanPlan {
	sp := &ScanPlan{
		name:   name,
		fn:     fn,
		args:   append([]interface{}(nil), args...),
		kwargs: make(map[string]interface{}, len(kwargs)),
	}
	for k, v := range kwargs {
		sp.kwargs[k] = v
	}
	return sp
}

// CTPlan describes a ct of exposure seconds with caller metadata md
func CTPlan(exposure float64, md runengine.Metadata) *ScanPlan {
	var kw map[string]interface{}
	if len(md) > 0 {
		kw = map[string]interface{}{"md": md}
	}
	return NewScanPlan("ct", ctFunc, []interface{}{exposure}, kw)
}

func ctFunc(bl *beamline.Context, det device.AreaDetector, args []interface{}, kwargs map[string]interface{}) (plan.Plan, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: ct takes one exposure, got %d args", ErrBadArgs, len(args))
	}
	exposure, ok := args[0].(float64)
	if !ok {
		return nil, fmt.Errorf("%w: ct exposure must be float64, got %T", ErrBadArgs, args[0])
	}
	if _, err := ComputeExposure(1, exposure); err != nil {
		return nil, err
	}
	var md runengine.Metadata
	switch v := kwargs["md"].(type) {
	case nil:
	case runengine.Metadata:
		md = v
	case map[string]interface{}:
		md = v
	default:
		return nil, fmt.Errorf("%w: ct md must be a mapping, got %T", ErrBadArgs, v)
	}
	return CT(bl, det, exposure, md), nil
}

// Name is the plan function name, e.g. "ct"
func (sp *ScanPlan) Name() string {
	return sp.name
}

// Args returns a copy of the positional arguments
func (sp *ScanPlan) Args() []interface{} {
	return append([]interface{}(nil), sp.args...)
}

// Key renders the plan and its arguments, e.g. "ct(5)".  Two ScanPlans with
// the same key take the same data, which makes the key usable for matching
// dark frames.
func (sp *ScanPlan) Key() string {
	parts := make([]string, 0, len(sp.args)+len(sp.kwargs))
	for _, a := range sp.args {
		parts = append(parts, fmt.Sprint(a))
	}
	keys := make([]string, 0, len(sp.kwargs))
	for k := range sp.kwargs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, sp.kwargs[k]))
	}
	return sp.name + "(" + strings.Join(parts, ", ") + ")"
}

func (sp *ScanPlan) String() string {
	return sp.Key()
}

// Factory builds a fresh plan against the beamline's default detector.
// Arguments the plan cannot use are rejected here, before any device is
// touched.
func (sp *ScanPlan) Factory(bl *beamline.Context) (plan.Plan, error) {
	det, err := bl.Detector()
	if err != nil {
		return nil, err
	}
	return sp.fn(bl, det, sp.args, sp.kwargs)
}

// Summary materializes the plan and renders it with plan.Summarize.  Building
// and walking the plan configures the detector the same way running it would.
func (sp *ScanPlan) Summary(bl *beamline.Context) (string, error) {
	p, err := sp.Factory(bl)
	if err != nil {
		return "", err
	}
	return plan.Summarize(p)
}
