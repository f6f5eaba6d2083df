package beamtime

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrInvalidFrameTime is returned for a per-frame time that is not a positive number
	ErrInvalidFrameTime = errors.New("beamtime: frame time must be positive")

	// ErrInvalidExposure is returned for a negative or non-finite exposure
	ErrInvalidExposure = errors.New("beamtime: exposure must be a non-negative number")
)

// Exposure is the result of fitting a requested exposure to whole frames
type Exposure struct {
	// FrameTime is the per-frame acquisition time, seconds
	FrameTime float64

	// NumFrames is the number of frames summed, at least 1
	NumFrames int

	// Requested is the exposure asked for, seconds
	Requested float64

	// Computed is NumFrames * FrameTime, seconds
	Computed float64
}

// ComputeExposure fits requested seconds into frames of frameTime seconds.
// The frame count is rounded up, so the computed exposure is never shorter
// than requested, and is never less than one frame.
func ComputeExposure(frameTime, requested float64) (Exposure, error) {
	if !(frameTime > 0) || math.IsInf(frameTime, 0) {
		return Exposure{}, fmt.Errorf("%w, got %v", ErrInvalidFrameTime, frameTime)
	}
	if !(requested >= 0) || math.IsInf(requested, 0) {
		return Exposure{}, fmt.Errorf("%w, got %v", ErrInvalidExposure, requested)
	}
	n := math.Ceil(requested / frameTime)
	if n == 0 {
		n = 1
	}
	return Exposure{
		FrameTime: frameTime,
		NumFrames: int(n),
		Requested: requested,
		Computed:  n * frameTime,
	}, nil
}
