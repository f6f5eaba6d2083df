/*Package beamline holds the beamline context shared by the planner and the
run dispatcher: which shutter gates the beam, the default area detector, the
default per-frame acquisition time, and the ledger of dark frames.

A Context is an explicit value; callers create one and hand it to whatever
needs it.  All methods are concurrent safe.
*/
package beamline

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/xpdacq/acq/device"
)

var (
	// ErrUnknownShutter is returned when the selected shutter is not a registered device
	ErrUnknownShutter = errors.New("beamline: selected shutter is not a registered device")

	// ErrNoDetector is returned when no default detector is configured
	ErrNoDetector = errors.New("beamline: no default detector")

	// ErrBadFrameTime is returned for a non-positive frame acquisition time
	ErrBadFrameTime = errors.New("beamline: frame acquisition time must be positive")
)

// Dark records a dark run
type Dark struct {
	// UID identifies the dark, it is written to light runs as sc_dk_field_uid
	UID string `json:"uid"`

	// Key identifies the plan the dark was taken with
	Key string `json:"key"`

	// FrameAcqTime is the per-frame acquisition time in effect when the dark
	// was dispatched, seconds
	FrameAcqTime float64 `json:"frame_acq_time"`

	// Taken is when the dark was dispatched
	Taken time.Time `json:"taken"`
}

// Context is the beamline state.  The zero value is not usable, use New.
type Context struct {
	mu           sync.RWMutex
	shutter      string
	photon       string
	fast         string
	frameAcqTime float64
	detector     device.AreaDetector
	devices      map[string]device.Settable
	darks        []Dark
}

// New returns a context configured from cfg.  The fast shutter is selected
// unless cfg.Shutter is "photon".
func New(cfg Config) *Context {
	c := &Context{
		photon:       cfg.PhotonShutter,
		fast:         cfg.FastShutter,
		frameAcqTime: cfg.FrameAcqTime,
		devices:      map[string]device.Settable{},
	}
	c.shutter = c.fast
	if cfg.Shutter == "photon" {
		c.shutter = c.photon
	}
	return c
}

// SelectPhotonShutter makes the photon shutter gate the beam
func (c *Context) SelectPhotonShutter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutter = c.photon
}

// SelectFastShutter makes the fast shutter gate the beam
func (c *Context) SelectFastShutter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutter = c.fast
}

// Shutter returns the name of the selected shutter
func (c *Context) Shutter() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shutter
}

// ShutterDevice resolves the selected shutter against the registered devices
func (c *Context) ShutterDevice() (device.Settable, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dev, ok := c.devices[c.shutter]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownShutter, c.shutter)
	}
	return dev, nil
}

// Register makes a settable device available by name
func (c *Context) Register(dev device.Settable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[dev.Name()] = dev
}

// Devices returns the sorted names of registered devices
func (c *Context) Devices() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.devices))
	for k := range c.devices {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// SetDetector sets the default area detector
func (c *Context) SetDetector(d device.AreaDetector) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.detector = d
}

// Detector returns the default area detector
func (c *Context) Detector() (device.AreaDetector, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.detector == nil {
		return nil, ErrNoDetector
	}
	return c.detector, nil
}

// FrameAcqTime returns the default per-frame acquisition time, in seconds
func (c *Context) FrameAcqTime() float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frameAcqTime
}

// SetFrameAcqTime updates the default per-frame acquisition time
func (c *Context) SetFrameAcqTime(t float64) error {
	if !(t > 0) {
		return fmt.Errorf("%w, got %v", ErrBadFrameTime, t)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frameAcqTime = t
	return nil
}

// RecordDark adds a dark to the ledger
func (c *Context) RecordDark(d Dark) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.darks = append(c.darks, d)
}

// frameTimeTolerance is how far apart two frame times may be and still
// describe the same detector readout, seconds
const frameTimeTolerance = 1e-6

// FindDark returns the newest dark for key taken with frame time
// frameAcqTime no earlier than window before now
func (c *Context) FindDark(key string, frameAcqTime float64, now time.Time, window time.Duration) (Dark, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for i := len(c.darks) - 1; i >= 0; i-- {
		d := c.darks[i]
		if d.Key != key || math.Abs(d.FrameAcqTime-frameAcqTime) > frameTimeTolerance {
			continue
		}
		if now.Sub(d.Taken) <= window {
			return d, true
		}
	}
	return Dark{}, false
}
