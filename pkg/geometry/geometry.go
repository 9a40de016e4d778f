// Package geometry implements the cone-beam coordinate transform chain:
// voxel indices to physical coordinates, physical coordinates to detector
// (u,v) positions, and (u,v) positions to fractional detector indices.
// All functions are pure and operate on an immutable Parameters value.
package geometry

import (
	"fmt"
	"math"
)

// Parameters holds the scalar geometry of a cone-beam scanner. All lengths
// are in arbitrary length units (ALU); the only requirement is that they are
// mutually consistent.
type Parameters struct {
	// DeltaDetChannel is the detector channel (column) pitch in ALU.
	DeltaDetChannel float64

	// DeltaDetRow is the detector row pitch in ALU.
	DeltaDetRow float64

	// DetChannelOffset is the calibration offset added to the channel
	// index after pitch scaling: (projected center of rotation) minus
	// (center of detector channels).
	DetChannelOffset float64

	// DetRowOffset is the calibration offset added to the row index
	// after pitch scaling.
	DetRowOffset float64

	// DetRotation is the small in-plane rotation of the detector in
	// radians.
	DetRotation float64

	// SourceDetectorDist is the distance from the X-ray source to the
	// detector plane in ALU.
	SourceDetectorDist float64

	// Magnification is SourceDetectorDist divided by the source-to-iso
	// distance. A value of 1 places the detector at the rotation axis.
	Magnification float64

	// DeltaVoxel is the reconstruction voxel pitch in ALU. Voxels are
	// cubes.
	DeltaVoxel float64

	// ReconSliceOffset is the vertical offset of the reconstruction
	// volume in ALU.
	ReconSliceOffset float64
}

// GeometryError reports a degenerate cone-beam configuration, such as a
// voxel coinciding with the source plane.
type GeometryError struct {
	// Reason describes the degenerate condition.
	Reason string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid geometry: %s", e.Reason)
}

// magEpsFraction sets the clamp for the pixel magnification denominator as
// a fraction of the source-to-iso distance. Clamping biases the projected
// position of voxels within the clamp band toward the detector plane, but
// keeps batched kernel evaluation free of per-element failures.
const magEpsFraction = 1e-9

// SourceIsoDist returns the source-to-rotation-axis distance implied by the
// source-detector distance and the magnification.
func (p Parameters) SourceIsoDist() float64 {
	return p.SourceDetectorDist / p.Magnification
}

// Validate checks that the parameters describe a usable cone-beam geometry.
// It returns a GeometryError naming the offending parameter otherwise.
func (p Parameters) Validate() error {
	if p.DeltaDetChannel <= 0 {
		return &GeometryError{Reason: fmt.Sprintf("detector channel pitch must be positive, got %g", p.DeltaDetChannel)}
	}
	if p.DeltaDetRow <= 0 {
		return &GeometryError{Reason: fmt.Sprintf("detector row pitch must be positive, got %g", p.DeltaDetRow)}
	}
	if p.DeltaVoxel <= 0 {
		return &GeometryError{Reason: fmt.Sprintf("voxel pitch must be positive, got %g", p.DeltaVoxel)}
	}
	if p.SourceDetectorDist <= 0 {
		return &GeometryError{Reason: fmt.Sprintf("source-detector distance must be positive, got %g", p.SourceDetectorDist)}
	}
	if p.Magnification < 1 {
		return &GeometryError{Reason: fmt.Sprintf("magnification must be at least 1, got %g (source inside detector radius)", p.Magnification)}
	}
	return nil
}

// VoxelToPhysical converts a voxel index (i, j, k) in a reconstruction grid
// of numRows x numCols x numSlices into physical (x, y, z) coordinates about
// the rotation axis, for the view at the given angle in radians. The grid is
// centered at iso; the rotation is of the object, so it is the inverse of
// the view rotation.
func VoxelToPhysical(p Parameters, i, j, k int, numRows, numCols, numSlices int, angle float64) (x, y, z float64) {
	xTilde := p.DeltaVoxel * (float64(i) - float64(numRows-1)/2.0)
	yTilde := p.DeltaVoxel * (float64(j) - float64(numCols-1)/2.0)

	sin, cos := math.Sincos(angle)
	x = cos*xTilde - sin*yTilde
	y = sin*xTilde + cos*yTilde

	z = p.DeltaVoxel*(float64(k)-float64(numSlices-1)/2.0) + p.ReconSliceOffset
	return x, y, z
}

// PixelMag returns the local magnification of a voxel at perpendicular
// distance y from the rotation axis toward the source. The denominator is
// clamped away from zero so that batched evaluation never divides by zero;
// voxels inside the clamp band project with a bounded (biased)
// magnification instead of failing.
func (p Parameters) PixelMag(y float64) float64 {
	denom := p.SourceIsoDist() - y
	eps := magEpsFraction * p.SourceIsoDist()
	if math.Abs(denom) < eps {
		denom = math.Copysign(eps, denom)
	}
	return p.SourceDetectorDist / denom
}

// PhysicalToDetectorUV projects a physical point (x, y, z) onto the detector
// plane, returning the detector-plane coordinates (u, v) and the local
// magnification. It returns a GeometryError when the point lies on the
// source plane, where the projection is undefined. This is the strict
// scalar entry point; batched callers should bound their configurations so
// the condition cannot occur and rely on the clamped PixelMag instead.
func PhysicalToDetectorUV(p Parameters, x, y, z float64) (u, v, pixelMag float64, err error) {
	denom := p.SourceIsoDist() - y
	if denom == 0 {
		return 0, 0, 0, &GeometryError{
			Reason: fmt.Sprintf("voxel at y=%g lies on the source plane (source-iso distance %g)", y, p.SourceIsoDist()),
		}
	}
	pixelMag = p.SourceDetectorDist / denom
	return pixelMag * x, pixelMag * z, pixelMag, nil
}

// UVToDetectorIndex converts detector-plane coordinates (u, v) into
// fractional detector indices (m, n), where m indexes rows and n indexes
// channels. The result is not rounded; the caller decides how to distribute
// weight across neighboring detector cells. Calibration offsets are applied
// after pitch scaling, so they are expressed in detector-index units.
func UVToDetectorIndex(p Parameters, u, v float64, numDetRows, numDetChannels int) (m, n float64) {
	sin, cos := math.Sincos(p.DetRotation)
	uTilde := cos*u + sin*v
	vTilde := -sin*u + cos*v

	detCenterChannels := float64(numDetChannels-1) / 2.0
	detCenterRows := float64(numDetRows-1) / 2.0

	n = uTilde/p.DeltaDetChannel + detCenterChannels + p.DetChannelOffset
	m = vTilde/p.DeltaDetRow + detCenterRows + p.DetRowOffset
	return m, n
}

// ConeAngle returns the cone angle in radians of the ray hitting detector
// position t (either u or v) relative to the central ray.
func (p Parameters) ConeAngle(t float64) float64 {
	return math.Atan2(t, p.SourceDetectorDist)
}
