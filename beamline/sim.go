package beamline

import "github.com/xpdacq/acq/device"

// Sim holds the simulated hardware behind a simulated beamline
type Sim struct {
	Detector *device.SimDetector
	Photon   *device.SimShutter
	Fast     *device.SimShutter
}

// selectedGate lets beam through when the selected shutter is open
type selectedGate struct {
	c *Context
}

func (g selectedGate) Open() bool {
	dev, err := g.c.ShutterDevice()
	if err != nil {
		return false
	}
	if o, ok := dev.(device.Gate); ok {
		return o.Open()
	}
	return false
}

// Simulated returns a context wired to simulated hardware named per cfg
func Simulated(cfg Config) (*Context, Sim) {
	c := New(cfg)
	s := Sim{
		Detector: device.NewSimDetector(cfg.Detector, cfg.DetectorQuantum),
		Photon:   device.NewSimShutter(cfg.PhotonShutter),
		Fast:     device.NewSimShutter(cfg.FastShutter),
	}
	s.Detector.Beam = selectedGate{c}
	c.Register(s.Photon)
	c.Register(s.Fast)
	c.SetDetector(s.Detector)
	return c, s
}
