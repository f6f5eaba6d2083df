package device

import (
	"fmt"
	"math"
	"sync"
	"time"
)

func now() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// SimSignal is an in-memory Signal.  It is concurrent safe.
type SimSignal struct {
	sync.Mutex
	name  string
	value float64

	// Quantum, if nonzero, rounds every put up to a multiple of itself
	Quantum float64

	// Integer rejects non-integral puts
	Integer bool

	// Min is the smallest accepted value, only enforced if HasMin
	Min    float64
	HasMin bool
}

// NewSimSignal returns a new signal holding value
func NewSimSignal(name string, value float64) *SimSignal {
	return &SimSignal{name: name, value: value}
}

// Name returns the signal name
func (s *SimSignal) Name() string {
	return s.name
}

// Put writes v, quantizing it if the signal has a Quantum
func (s *SimSignal) Put(v float64) error {
	if s.Integer && v != math.Trunc(v) {
		return fmt.Errorf("%s: %w, got %v", s.name, ErrNotInteger, v)
	}
	if s.HasMin && v < s.Min {
		return fmt.Errorf("%s: %w %v, got %v", s.name, ErrBelowMinimum, s.Min, v)
	}
	if s.Quantum > 0 {
		v = math.Ceil(v/s.Quantum) * s.Quantum
	}
	s.Lock()
	defer s.Unlock()
	s.value = v
	return nil
}

// Get returns the stored value
func (s *SimSignal) Get() (float64, error) {
	s.Lock()
	defer s.Unlock()
	return s.value, nil
}

// SimShutter is a two state shutter which remembers every value it was set to
type SimShutter struct {
	sync.Mutex
	name    string
	state   float64
	history []float64
}

// NewSimShutter returns a closed shutter
func NewSimShutter(name string) *SimShutter {
	return &SimShutter{name: name}
}

// Name returns the shutter name
func (s *SimShutter) Name() string {
	return s.name
}

// Set opens (1) or closes (0) the shutter
func (s *SimShutter) Set(v float64) error {
	if v != 0 && v != 1 {
		return fmt.Errorf("%s: shutter accepts 0 or 1, got %v", s.name, v)
	}
	s.Lock()
	defer s.Unlock()
	s.state = v
	s.history = append(s.history, v)
	return nil
}

// Open reports if the shutter is open
func (s *SimShutter) Open() bool {
	s.Lock()
	defer s.Unlock()
	return s.state == 1
}

// History returns a copy of every value the shutter was set to
func (s *SimShutter) History() []float64 {
	s.Lock()
	defer s.Unlock()
	out := make([]float64, len(s.history))
	copy(out, s.history)
	return out
}

// Read reports the shutter state
func (s *SimShutter) Read() (map[string]Reading, error) {
	s.Lock()
	defer s.Unlock()
	return map[string]Reading{s.name: {Value: s.state, Timestamp: now()}}, nil
}

// Gate reports whether beam reaches a detector
type Gate interface {
	Open() bool
}

// SimDetector is a simulated area detector.  Its image total scales with the
// exposure, and drops to the dark current when its Beam gate is closed.
type SimDetector struct {
	sync.Mutex
	name     string
	sets     *SimSignal
	images   *SimSignal
	acquire  *SimSignal
	triggers int
	total    float64

	// Beam, if not nil, gates the simulated photon flux
	Beam Gate

	// Flux is the count rate with the beam on, counts per second
	Flux float64

	// Dark is the count rate with the beam off, counts per second
	Dark float64
}

// NewSimDetector returns a detector whose acquire time is quantized to quantum
// seconds.  A quantum of zero disables quantization.
func NewSimDetector(name string, quantum float64) *SimDetector {
	d := &SimDetector{
		name:    name,
		sets:    NewSimSignal(name+"_number_of_sets", 1),
		images:  NewSimSignal(name+"_images_per_set", 1),
		acquire: NewSimSignal(name+"_cam_acquire_time", 0.1),
		Flux:    1000,
		Dark:    10,
	}
	d.sets.Integer, d.sets.HasMin, d.sets.Min = true, true, 1
	d.images.Integer, d.images.HasMin, d.images.Min = true, true, 1
	d.acquire.HasMin = true
	d.acquire.Quantum = quantum
	return d
}

// Name returns the detector name
func (d *SimDetector) Name() string {
	return d.name
}

// NumberOfSets returns the number of sets signal
func (d *SimDetector) NumberOfSets() Signal {
	return d.sets
}

// ImagesPerSet returns the frames per image signal
func (d *SimDetector) ImagesPerSet() Signal {
	return d.images
}

// AcquireTime returns the per-frame time signal
func (d *SimDetector) AcquireTime() Signal {
	return d.acquire
}

// Triggers returns how many times the detector was triggered
func (d *SimDetector) Triggers() int {
	d.Lock()
	defer d.Unlock()
	return d.triggers
}

// Trigger integrates one image of ImagesPerSet frames
func (d *SimDetector) Trigger() error {
	n, _ := d.images.Get()
	t, _ := d.acquire.Get()
	rate := d.Flux
	if d.Beam != nil && !d.Beam.Open() {
		rate = d.Dark
	}
	d.Lock()
	defer d.Unlock()
	d.triggers++
	d.total = rate * n * t
	return nil
}

// Read returns the last image total and the acquisition settings
func (d *SimDetector) Read() (map[string]Reading, error) {
	n, _ := d.images.Get()
	t, _ := d.acquire.Get()
	ts := now()
	d.Lock()
	defer d.Unlock()
	return map[string]Reading{
		d.name + "_stats1_total":     {Value: d.total, Timestamp: ts},
		d.name + "_images_per_set":   {Value: n, Timestamp: ts},
		d.name + "_cam_acquire_time": {Value: t, Timestamp: ts},
	}, nil
}
