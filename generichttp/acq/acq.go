// Package acq exposes the beamline and run dispatcher over HTTP
package acq

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/xpdacq/acq/beamline"
	"github.com/xpdacq/acq/beamtime"
	"github.com/xpdacq/acq/callbacks"
	"github.com/xpdacq/acq/generichttp"
	"github.com/xpdacq/acq/server/middleware/locker"
	"github.com/xpdacq/acq/xrun"
)

// ErrBadShutterMode is returned when a shutter mode other than photon or fast is requested
var ErrBadShutterMode = errors.New("acq: shutter mode must be photon or fast")

// CTRequest is the body of POST /ct
type CTRequest struct {
	// Exposure is the requested exposure in seconds
	Exposure float64 `json:"exposure"`

	// Sample is the sample metadata
	Sample map[string]interface{} `json:"sample"`

	// MD is extra run metadata, it may not repeat sample keys
	MD map[string]interface{} `json:"md"`

	// VerifyWrite and AutoDark override the server defaults when present
	VerifyWrite *bool `json:"verify_write,omitempty"`
	AutoDark    *bool `json:"auto_dark,omitempty"`
}

// CTResponse is the reply to a successful POST /ct
type CTResponse struct {
	UIDs []string `json:"uids"`
}

// HTTPWrapper binds a beamline and its dispatcher to routes
type HTTPWrapper struct {
	// Beamline is the state the routes read and change
	Beamline *beamline.Context

	// Dispatcher runs ct requests
	Dispatcher *xrun.CustomizedRunEngine

	// Broker serves /runs, may be nil
	Broker *callbacks.Broker

	// Lock is held for the duration of a run
	Lock locker.ManipulableLock

	// Options are the dispatch defaults for ct requests
	Options xrun.Options

	// Logger is slog.Default() if nil
	Logger *slog.Logger

	// RouteTable holds the routes, see RT
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a wrapper with its route table populated
func NewHTTPWrapper(bl *beamline.Context, re *xrun.CustomizedRunEngine, lock locker.ManipulableLock, opts xrun.Options) HTTPWrapper {
	w := HTTPWrapper{
		Beamline:   bl,
		Dispatcher: re,
		Broker:     re.Broker,
		Lock:       lock,
		Options:    opts,
		Logger:     re.Logger,
		RouteTable: generichttp.RouteTable{},
	}
	rt := w.RouteTable
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/shutter"}] = generichttp.GetString(func() (string, error) {
		return bl.Shutter(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/shutter"}] = generichttp.SetString(func(mode string) error {
		return SelectShutter(bl, mode)
	})
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/frame-acq-time"}] = generichttp.GetFloat(func() (float64, error) {
		return bl.FrameAcqTime(), nil
	})
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/frame-acq-time"}] = generichttp.SetFloat(bl.SetFrameAcqTime)
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/devices"}] = func(w http.ResponseWriter, r *http.Request) {
		generichttp.RespondJSON(w, http.StatusOK, bl.Devices())
	}
	rt[generichttp.MethodPath{Method: http.MethodPost, Path: "/ct"}] = w.CT
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/ct/summary"}] = w.Summary
	if w.Broker != nil {
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/runs"}] = w.Runs
		rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/runs/{uid}"}] = w.Run
	}
	return w
}

// RT satisfies generichttp.HTTPer
func (h HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

func (h HTTPWrapper) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// SelectShutter selects the photon or fast shutter by mode name
func SelectShutter(bl *beamline.Context, mode string) error {
	switch mode {
	case "photon":
		bl.SelectPhotonShutter()
	case "fast":
		bl.SelectFastShutter()
	default:
		return fmt.Errorf("%w, got %q", ErrBadShutterMode, mode)
	}
	return nil
}

// CT dispatches a ct plan.  The lock is held while the run executes, a
// concurrent request gets 423.
func (h HTTPWrapper) CT(w http.ResponseWriter, r *http.Request) {
	req := CTRequest{}
	err := json.NewDecoder(r.Body).Decode(&req)
	defer r.Body.Close()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := h.Options
	if req.VerifyWrite != nil {
		opts.VerifyWrite = *req.VerifyWrite
	}
	if req.AutoDark != nil {
		opts.AutoDark = *req.AutoDark
	}
	if !h.Lock.TryLock() {
		w.WriteHeader(http.StatusLocked)
		return
	}
	defer h.Lock.Unlock()

	sample := beamtime.Dict(req.Sample)
	uids, err := h.Dispatcher.Run(r.Context(), sample, beamtime.CTPlan(req.Exposure, nil), nil, opts, req.MD)
	if err != nil {
		h.logger().Error("ct failed", "exposure", req.Exposure, "err", err)
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	generichttp.RespondJSON(w, http.StatusOK, CTResponse{UIDs: uids})
}

func statusFor(err error) int {
	var kc *xrun.KeyCollisionError
	switch {
	case errors.As(err, &kc),
		errors.Is(err, beamtime.ErrInvalidExposure),
		errors.Is(err, xrun.ErrInvalidDarkWindow):
		return http.StatusBadRequest
	case errors.Is(err, beamline.ErrUnknownShutter),
		errors.Is(err, beamline.ErrNoDetector):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// Summary describes the ct plan for ?exposure=N as text
func (h HTTPWrapper) Summary(w http.ResponseWriter, r *http.Request) {
	exp, err := strconv.ParseFloat(r.URL.Query().Get("exposure"), 64)
	if err != nil {
		http.Error(w, "exposure query parameter must be a number", http.StatusBadRequest)
		return
	}
	s, err := beamtime.CTPlan(exp, nil).Summary(h.Beamline)
	if err != nil {
		http.Error(w, err.Error(), statusFor(err))
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, s)
}

// Runs lists the start uids held by the broker
func (h HTTPWrapper) Runs(w http.ResponseWriter, r *http.Request) {
	generichttp.RespondJSON(w, http.StatusOK, h.Broker.Runs())
}

// Run returns the documents of one run
func (h HTTPWrapper) Run(w http.ResponseWriter, r *http.Request) {
	uid := chi.URLParam(r, "uid")
	run, ok := h.Broker.Run(uid)
	if !ok {
		http.Error(w, fmt.Sprintf("no run %q", uid), http.StatusNotFound)
		return
	}
	generichttp.RespondJSON(w, http.StatusOK, run)
}
