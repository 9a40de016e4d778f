// Package projector implements the cone-beam forward and back projection
// operators and the separable sparse system-matrix computation they share.
// Both directions derive from the identical kernel, which makes the pair
// exact adjoints of each other; iterative solvers rely on that property.
package projector

import (
	"fmt"
	"math"

	"conebeamrecon/pkg/geometry"
)

// DefaultFootprintRadius is the half-width, in detector cells, of the
// projection footprint used when no explicit radius is requested. A radius
// of 1 spreads each voxel over 3 neighboring cells per direction.
const DefaultFootprintRadius = 1

// Params bundles everything a single projection call needs: the sinogram
// shape (views, detector rows, detector channels), the reconstruction shape
// (rows, cols, slices) and the scanner geometry. It is treated as read-only
// for the duration of a reconstruction.
type Params struct {
	SinogramShape [3]int
	ReconShape    [3]int
	Geometry      geometry.Parameters
}

// NumPixels returns the number of voxels in one reconstruction plane.
func (p Params) NumPixels() int {
	return p.ReconShape[0] * p.ReconShape[1]
}

// Kernel holds the separable sparse system-matrix entries for a batch of
// voxels at a single view. Each of the numVoxels*numSlices entries carries
// Taps candidate detector positions per direction; entries are ordered with
// slice varying fastest within a voxel block. Weights for candidates that
// fall outside the detector are exactly zero, never dropped, so all four
// arrays stay the same static shape.
type Kernel struct {
	// ChanWeight and ChanIndex describe the channel-direction footprint:
	// row-major (Entries x Taps) arrays of weight and detector channel.
	ChanWeight []float64
	ChanIndex  []int

	// RowWeight and RowIndex describe the row-direction footprint.
	RowWeight []float64
	RowIndex  []int

	// Entries is numVoxels*numSlices.
	Entries int

	// Taps is 2*radius+1.
	Taps int
}

// BuildKernel computes the separable system-matrix entries for the given
// flattened voxel-plane indices at one view angle. The footprint model is
// rectangular-beam overlap: each voxel projects as a rectangle of width W
// detector cells, and each candidate cell receives weight proportional to
// its trapezoidal overlap with that rectangle.
//
// The whole batch is aborted with a GeometryError if any voxel lands within
// the numerical clamp band of the source plane; per-element failures are
// incompatible with batched evaluation.
func BuildKernel(pixelIndices []int, angle float64, params Params, radius int) (*Kernel, error) {
	if radius < 1 {
		return nil, fmt.Errorf("projector: footprint radius must be at least 1, got %d", radius)
	}

	numRows, numCols, numSlices := params.ReconShape[0], params.ReconShape[1], params.ReconShape[2]
	numDetRows, numDetChannels := params.SinogramShape[1], params.SinogramShape[2]
	g := params.Geometry

	numPixels := numRows * numCols
	for _, idx := range pixelIndices {
		if idx < 0 || idx >= numPixels {
			return nil, fmt.Errorf("projector: pixel index %d outside reconstruction plane of %d pixels", idx, numPixels)
		}
	}

	taps := 2*radius + 1
	entries := len(pixelIndices) * numSlices
	k := &Kernel{
		ChanWeight: make([]float64, entries*taps),
		ChanIndex:  make([]int, entries*taps),
		RowWeight:  make([]float64, entries*taps),
		RowIndex:   make([]int, entries*taps),
		Entries:    entries,
		Taps:       taps,
	}

	sourceIso := g.SourceIsoDist()
	// Voxels this close to the source plane have no meaningful projection.
	degenerate := 1e-6 * sourceIso

	e := 0
	for _, idx := range pixelIndices {
		i := idx / numCols
		j := idx % numCols

		for s := 0; s < numSlices; s++ {
			x, y, z := geometry.VoxelToPhysical(g, i, j, s, numRows, numCols, numSlices, angle)

			if math.Abs(sourceIso-y) <= degenerate {
				return nil, &geometry.GeometryError{
					Reason: fmt.Sprintf("voxel (%d, %d, %d) lies on the source plane at view angle %g", i, j, s, angle),
				}
			}
			pixelMag := g.PixelMag(y)
			u := pixelMag * x
			v := pixelMag * z

			m, n := geometry.UVToDetectorIndex(g, u, v, numDetRows, numDetChannels)

			coneChan := g.ConeAngle(u)
			coneRow := g.ConeAngle(v)

			// The projected footprint width uses whichever of cos/sin
			// of the ray-to-view angle is larger, which bounds the
			// width away from zero at 45-degree-aligned rays.
			sinCh, cosCh := math.Sincos(angle - coneChan)
			cosAlphaCol := math.Max(math.Abs(cosCh), math.Abs(sinCh))
			sinRw, cosRw := math.Sincos(coneRow)
			cosAlphaRow := math.Max(math.Abs(cosRw), math.Abs(sinRw))

			wCol := pixelMag * (g.DeltaVoxel / g.DeltaDetChannel) * (cosAlphaCol / math.Cos(coneChan))
			wRow := pixelMag * (g.DeltaVoxel / g.DeltaDetRow) * (cosAlphaRow / math.Cos(coneRow))

			centerChan := int(math.Round(n))
			centerRow := int(math.Round(m))

			base := e * taps
			for t := -radius; t <= radius; t++ {
				ti := base + t + radius

				chanIdx := centerChan + t
				k.ChanIndex[ti] = chanIdx
				if chanIdx >= 0 && chanIdx < numDetChannels {
					l := overlapLength(wCol, math.Abs(float64(chanIdx)-n))
					k.ChanWeight[ti] = (g.DeltaVoxel / cosAlphaCol) * (l / g.DeltaDetChannel)
				}

				rowIdx := centerRow + t
				k.RowIndex[ti] = rowIdx
				if rowIdx >= 0 && rowIdx < numDetRows {
					l := overlapLength(wRow, math.Abs(float64(rowIdx)-m))
					k.RowWeight[ti] = (g.DeltaVoxel / cosAlphaRow) * (l / g.DeltaDetRow)
				}
			}
			e++
		}
	}

	return k, nil
}

// overlapLength returns the length of intersection between a unit detector
// cell at distance delta from the footprint center and a footprint of width
// w, both in detector-index units.
func overlapLength(w, delta float64) float64 {
	l := (w+1)/2.0 - math.Max(math.Abs(w-1)/2.0, delta)
	if l < 0 {
		return 0
	}
	return l
}
