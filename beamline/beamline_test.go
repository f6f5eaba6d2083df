package beamline_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/xpdacq/acq/beamline"
)

func TestShutterSelectionLastWriteWins(t *testing.T) {
	c := beamline.New(beamline.DefaultConfig())
	c.SelectFastShutter()
	c.SelectPhotonShutter()
	if got := c.Shutter(); got != "shctl1" {
		t.Errorf("expected photon shutter shctl1 to be selected, got %s", got)
	}
	c.SelectFastShutter()
	if got := c.Shutter(); got != "fs" {
		t.Errorf("expected fast shutter fs to be selected, got %s", got)
	}
}

func TestConcurrentSelectionIsSafe(t *testing.T) {
	c := beamline.New(beamline.DefaultConfig())
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); c.SelectFastShutter() }()
		go func() { defer wg.Done(); _ = c.Shutter(); c.SelectPhotonShutter() }()
	}
	wg.Wait()
	s := c.Shutter()
	if s != "fs" && s != "shctl1" {
		t.Errorf("expected one of the two shutters, got %q", s)
	}
}

func TestUnregisteredShutter(t *testing.T) {
	c := beamline.New(beamline.DefaultConfig())
	_, err := c.ShutterDevice()
	if !errors.Is(err, beamline.ErrUnknownShutter) {
		t.Errorf("expected ErrUnknownShutter, got %v", err)
	}
}

func TestSimulatedGateFollowsSelection(t *testing.T) {
	c, sim := beamline.Simulated(beamline.DefaultConfig())
	sim.Photon.Set(1)
	if sim.Detector.Beam.Open() {
		t.Error("expected beam off: fast shutter selected and closed")
	}
	c.SelectPhotonShutter()
	if !sim.Detector.Beam.Open() {
		t.Error("expected beam on: photon shutter selected and open")
	}
	if _, err := c.Detector(); err != nil {
		t.Error(err)
	}
}

func TestFrameAcqTimeValidation(t *testing.T) {
	c := beamline.New(beamline.DefaultConfig())
	if err := c.SetFrameAcqTime(0); !errors.Is(err, beamline.ErrBadFrameTime) {
		t.Errorf("expected ErrBadFrameTime, got %v", err)
	}
	if err := c.SetFrameAcqTime(0.2); err != nil {
		t.Fatal(err)
	}
	if c.FrameAcqTime() != 0.2 {
		t.Errorf("expected 0.2, got %v", c.FrameAcqTime())
	}
}

func TestFindDarkRespectsWindowAndKey(t *testing.T) {
	c := beamline.New(beamline.DefaultConfig())
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.RecordDark(beamline.Dark{UID: "old", Key: "ct(5)", FrameAcqTime: 0.1, Taken: t0})
	c.RecordDark(beamline.Dark{UID: "other", Key: "ct(1)", FrameAcqTime: 0.1, Taken: t0.Add(time.Hour)})

	d, ok := c.FindDark("ct(5)", 0.1, t0.Add(30*time.Minute), time.Hour)
	if !ok || d.UID != "old" {
		t.Errorf("expected to find dark old, got %v %v", d, ok)
	}
	_, ok = c.FindDark("ct(5)", 0.1, t0.Add(2*time.Hour), time.Hour)
	if ok {
		t.Error("expected dark outside the window to be rejected")
	}
	_, ok = c.FindDark("ct(10)", 0.1, t0, time.Hour)
	if ok {
		t.Error("expected no dark for an unknown key")
	}
}

func TestFindDarkMatchesFrameTime(t *testing.T) {
	c := beamline.New(beamline.DefaultConfig())
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.RecordDark(beamline.Dark{UID: "fast", Key: "ct(1)", FrameAcqTime: 0.1, Taken: t0})
	c.RecordDark(beamline.Dark{UID: "slow", Key: "ct(1)", FrameAcqTime: 0.5, Taken: t0.Add(time.Minute)})

	d, ok := c.FindDark("ct(1)", 0.1, t0.Add(time.Hour), 2*time.Hour)
	if !ok || d.UID != "fast" {
		t.Errorf("expected dark fast for frame time 0.1, got %v %v", d, ok)
	}
	noisy := 0.1
	noisy = noisy*3 - 0.2
	d, ok = c.FindDark("ct(1)", noisy, t0.Add(time.Hour), 2*time.Hour)
	if !ok || d.UID != "fast" {
		t.Errorf("expected rounding noise to be tolerated, got %v %v", d, ok)
	}
	if _, ok = c.FindDark("ct(1)", 0.2, t0.Add(time.Hour), 2*time.Hour); ok {
		t.Error("expected no dark for a frame time none was taken with")
	}
}

func TestLoadConfigOverlaysFile(t *testing.T) {
	dir := t.TempDir()
	fn := filepath.Join(dir, "xpdacq.yml")
	err := os.WriteFile(fn, []byte("FrameAcqTime: 0.2\nShutter: photon\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := beamline.LoadConfig(fn)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FrameAcqTime != 0.2 {
		t.Errorf("expected FrameAcqTime 0.2 from file, got %v", cfg.FrameAcqTime)
	}
	if cfg.Detector != "pe1c" {
		t.Errorf("expected default detector pe1c, got %s", cfg.Detector)
	}
	if beamline.New(cfg).Shutter() != "shctl1" {
		t.Error("expected photon shutter selected from config")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := beamline.LoadConfig(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DarkWindow() != 3000*time.Minute {
		t.Errorf("expected default dark window of 3000 minutes, got %v", cfg.DarkWindow())
	}
}
