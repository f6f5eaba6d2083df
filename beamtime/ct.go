package beamtime

import (
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/xpdacq/acq/beamline"
	"github.com/xpdacq/acq/callbacks"
	"github.com/xpdacq/acq/device"
	"github.com/xpdacq/acq/plan"
	"github.com/xpdacq/acq/runengine"
)

type ctConfig struct {
	out    io.Writer
	logger *slog.Logger
}

// CTOption configures CT
type CTOption func(*ctConfig)

// WithTableOutput sends the live table to w instead of stdout
func WithTableOutput(w io.Writer) CTOption {
	return func(c *ctConfig) {
		c.out = w
	}
}

// WithLogger sets the logger that receives the exposure notice
func WithLogger(l *slog.Logger) CTOption {
	return func(c *ctConfig) {
		c.logger = l
	}
}

// CT returns a plan that takes a single image of about exposure seconds on
// det.  The frame time is the beamline default as read back from the
// detector; the frame count is rounded up.  md is layered over the derived
// sp_* metadata.
//
// The detector is not touched until the plan is iterated, and the plan can
// only be iterated once.  Errors from the detector are returned unchanged.
func CT(bl *beamline.Context, det device.AreaDetector, exposure float64, md runengine.Metadata, opts ...CTOption) plan.Plan {
	cfg := ctConfig{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	return plan.Once(func(yield func(plan.Msg) bool) error {
		if _, err := ComputeExposure(1, exposure); err != nil {
			return err
		}
		if err := det.NumberOfSets().Put(1); err != nil {
			return err
		}
		if err := det.AcquireTime().Put(bl.FrameAcqTime()); err != nil {
			return err
		}
		acq, err := det.AcquireTime().Get()
		if err != nil {
			return err
		}
		exp, err := ComputeExposure(acq, exposure)
		if err != nil {
			return err
		}
		if err := det.ImagesPerSet().Put(float64(exp.NumFrames)); err != nil {
			return err
		}
		cfg.logger.Info("requested exposure time",
			"requested", exp.Requested,
			"computed", exp.Computed,
			"frames", exp.NumFrames,
			"frame_time", exp.FrameTime)

		derived := runengine.Metadata{
			"sp_time_per_frame":     exp.FrameTime,
			"sp_num_frames":         exp.NumFrames,
			"sp_requested_exposure": exp.Requested,
			"sp_computed_exposure":  exp.Computed,
			"sp_type":               "ct",
			"sp_uid":                uuid.NewString(),
			"plan_name":             "ct",
		}
		dets := []plan.Named{det}
		table := callbacks.NewLiveTable(dets, cfg.out)
		p := runengine.SubsWrapper(
			plan.Count(dets, 1, runengine.Layer(md, derived)),
			runengine.Subs{runengine.All: {table.Callback}},
		)
		return p(yield)
	})
}
