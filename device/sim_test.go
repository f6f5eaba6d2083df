package device_test

import (
	"errors"
	"testing"

	"github.com/xpdacq/acq/device"
)

func TestAcquireTimeIsQuantized(t *testing.T) {
	det := device.NewSimDetector("pe1c", 1.0034)
	err := det.AcquireTime().Put(1)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := det.AcquireTime().Get()
	if got != 1.0034 {
		t.Errorf("expected acquire time to be quantized to 1.0034, got %v", got)
	}
}

func TestImagesPerSetRejectsFractions(t *testing.T) {
	det := device.NewSimDetector("pe1c", 0)
	err := det.ImagesPerSet().Put(2.5)
	if !errors.Is(err, device.ErrNotInteger) {
		t.Errorf("expected ErrNotInteger, got %v", err)
	}
	err = det.ImagesPerSet().Put(0)
	if !errors.Is(err, device.ErrBelowMinimum) {
		t.Errorf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestDetectorSeesDarkWithShutterClosed(t *testing.T) {
	sh := device.NewSimShutter("fs")
	det := device.NewSimDetector("pe1c", 0)
	det.Beam = sh
	det.AcquireTime().Put(0.5)
	det.ImagesPerSet().Put(4)

	det.Trigger()
	rd, _ := det.Read()
	dark := rd["pe1c_stats1_total"].Value.(float64)

	sh.Set(1)
	det.Trigger()
	rd, _ = det.Read()
	light := rd["pe1c_stats1_total"].Value.(float64)

	if dark != det.Dark*2 {
		t.Errorf("expected dark total %v, got %v", det.Dark*2, dark)
	}
	if light != det.Flux*2 {
		t.Errorf("expected light total %v, got %v", det.Flux*2, light)
	}
	if det.Triggers() != 2 {
		t.Errorf("expected 2 triggers, got %d", det.Triggers())
	}
}

func TestShutterHistory(t *testing.T) {
	sh := device.NewSimShutter("fs")
	sh.Set(1)
	sh.Set(0)
	if err := sh.Set(0.5); err == nil {
		t.Error("expected a half open shutter to be refused")
	}
	h := sh.History()
	if len(h) != 2 || h[0] != 1 || h[1] != 0 {
		t.Errorf("expected history [1 0], got %v", h)
	}
}
