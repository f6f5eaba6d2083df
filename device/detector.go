/*Package device describes the small set of interfaces the acquisition layer
needs from beamline hardware, and simulated implementations of them.

Real drivers live elsewhere; anything that satisfies these interfaces can be
driven by a plan.  Signal is the unit of control: a named number that can be
put and read back.  An AreaDetector bundles the three signals the count plan
configures.

*/
package device

import "errors"

var (
	// ErrNotInteger is returned when a non-integral value is put to a counting signal
	ErrNotInteger = errors.New("device: value must be a whole number")

	// ErrBelowMinimum is returned when a value below the signal's minimum is put
	ErrBelowMinimum = errors.New("device: value below minimum")
)

// Reading is a single value read from a device at a point in time
type Reading struct {
	// Value is the reading itself
	Value interface{} `json:"value"`

	// Timestamp is the unix time of the reading, in seconds
	Timestamp float64 `json:"timestamp"`
}

// Signal is a named numeric control that can be written and read back.
// A value read back after Put may differ from what was put, hardware
// frequently quantizes setpoints.
type Signal interface {
	Name() string

	// Put writes a value
	Put(float64) error

	// Get reads the current value
	Get() (float64, error)
}

// Settable is a device which can be driven to a value, e.g. a shutter
type Settable interface {
	Name() string

	// Set drives the device to the value
	Set(float64) error
}

// Readable is a device which produces readings
type Readable interface {
	Name() string

	// Read returns the current readings keyed by field name
	Read() (map[string]Reading, error)
}

// Triggerable is a device that must be triggered before it is read
type Triggerable interface {
	Trigger() error
}

// AreaDetector describes an integrating area detector in the style of an
// AreaDetector IOC with a multi-image "sets" plugin.
type AreaDetector interface {
	Readable
	Triggerable

	// NumberOfSets is the number of burst groups to acquire
	NumberOfSets() Signal

	// ImagesPerSet is the number of frames summed into one image
	ImagesPerSet() Signal

	// AcquireTime is the per-frame acquisition time in seconds
	AcquireTime() Signal
}
