// Package solver implements vectorized coordinate descent (VCD)
// reconstruction. Each iteration sweeps a partition of the reconstruction
// plane; each subset update computes a preconditioned descent direction
// from the back-projected weighted residual and the diagonal Hessian, then
// applies the optimal scalar step for that direction, so the weighted
// data-fit objective decreases monotonically.
package solver

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"

	"conebeamrecon/internal/partition"
	"conebeamrecon/pkg/model"
)

// ProgressFunc receives per-iteration diagnostics from the solver. It
// replaces module-level logging: library code stays silent unless the
// caller supplies a callback.
type ProgressFunc func(iteration int, rmse float64, message string)

// Options control the VCD iteration schedule and regularization.
type Options struct {
	// Iterations is the number of full sweeps. Zero selects 10.
	Iterations int

	// Granularities lists the partition sizes the solver alternates
	// between. Zero-length selects {1, 4, 16, 64}, capped at the number
	// of plane pixels.
	Granularities []int

	// PartitionSequence maps iterations onto Granularities entries,
	// cycling. Zero-length visits each granularity in order.
	PartitionSequence []int

	// RegWeight is the strength of the quadratic neighborhood prior.
	// Zero disables regularization.
	RegWeight float64

	// Positivity constrains the reconstruction to non-negative values.
	Positivity bool

	// Seed fixes the partition shuffle, making runs reproducible.
	Seed int64

	// Progress, when non-nil, is called once per iteration with the
	// forward-model weighted RMSE.
	Progress ProgressFunc
}

// Result holds the reconstruction and its convergence history.
type Result struct {
	// Volume is the reconstructed (rows, cols, slices) image.
	Volume *sparse.DenseArray

	// RMSE holds the weighted forward-model RMSE after each iteration.
	RMSE []float64
}

// Recon runs VCD reconstruction of a sinogram under the given model.
// weights may be nil for an unweighted fit.
func Recon(m *model.Model, sinogram, wts *sparse.DenseArray, opts Options) (*Result, error) {
	ss := m.SinogramShape()
	if len(sinogram.Shape) != 3 || sinogram.Shape[0] != ss[0] || sinogram.Shape[1] != ss[1] || sinogram.Shape[2] != ss[2] {
		return nil, fmt.Errorf("solver: sinogram has shape %v, want (%d, %d, %d)", sinogram.Shape, ss[0], ss[1], ss[2])
	}
	if wts == nil {
		wts = sparse.ZerosDense(ss[0], ss[1], ss[2])
		for i := range wts.Elements {
			wts.Elements[i] = 1
		}
	} else if len(wts.Shape) != 3 || wts.Shape[0] != ss[0] || wts.Shape[1] != ss[1] || wts.Shape[2] != ss[2] {
		return nil, fmt.Errorf("solver: weights have shape %v, want (%d, %d, %d)", wts.Shape, ss[0], ss[1], ss[2])
	}

	iterations := opts.Iterations
	if iterations == 0 {
		iterations = 10
	}
	rs := m.ReconShape()
	numPixels := rs[0] * rs[1]

	granularities := opts.Granularities
	if len(granularities) == 0 {
		granularities = []int{1, 4, 16, 64}
	}
	partitions := make([]partition.Partition, len(granularities))
	for i, g := range granularities {
		if g > numPixels {
			g = numPixels
		}
		p, err := partition.Generate(numPixels, g, opts.Seed)
		if err != nil {
			return nil, err
		}
		partitions[i] = p
	}

	order := opts.PartitionSequence
	if len(order) == 0 {
		order = make([]int, len(granularities))
		for i := range order {
			order[i] = i
		}
	}
	seq, err := partition.NewSequence(order, len(partitions))
	if err != nil {
		return nil, err
	}

	volume := sparse.ZerosDense(rs[0], rs[1], rs[2])

	// The error sinogram e = measured - F(x) starts as a copy of the
	// measurement since x is zero.
	errSino := sinogram.Copy()

	result := &Result{Volume: volume}
	for it := 0; it < iterations; it++ {
		part := partitions[seq.At(it)]
		for _, subset := range part {
			if err := updateSubset(m, volume, errSino, wts, subset, opts); err != nil {
				return nil, fmt.Errorf("solver: iteration %d: %w", it, err)
			}
		}

		rmse := weightedRMSE(errSino, wts)
		result.RMSE = append(result.RMSE, rmse)
		if opts.Progress != nil {
			opts.Progress(it, rmse, fmt.Sprintf("granularity %d", len(part)))
		}
	}

	return result, nil
}

// updateSubset performs one VCD update of the voxels in subset: descent
// direction from back-projection, positivity adjustment, optimal scalar
// step, and error-sinogram maintenance.
func updateSubset(m *model.Model, volume, errSino, wts *sparse.DenseArray, subset []int, opts Options) error {
	rs := m.ReconShape()
	numSlices := rs[2]
	numViews := m.NumViews()
	viewSize := m.SinogramShape()[1] * m.SinogramShape()[2]

	grad := sparse.ZerosDense(len(subset), numSlices)
	curv := sparse.ZerosDense(len(subset), numSlices)

	// Accumulate the weighted-residual back-projection and the diagonal
	// Hessian across views. Views are independent; the sums are
	// order-insensitive.
	type viewResult struct {
		grad *sparse.DenseArray
		curv *sparse.DenseArray
		err  error
	}
	resultChan := make(chan viewResult)
	for v := 0; v < numViews; v++ {
		go func(v int) {
			we := sparse.ZerosDense(m.SinogramShape()[1], m.SinogramShape()[2])
			off := v * viewSize
			for i := range we.Elements {
				we.Elements[i] = wts.Elements[off+i] * errSino.Elements[off+i]
			}
			g, err := m.BackProjectPixels(we, subset, v, 1)
			if err != nil {
				resultChan <- viewResult{err: err}
				return
			}
			h, err := m.BackProjectPixels(m.SinogramView(wts, v), subset, v, 2)
			resultChan <- viewResult{grad: g, curv: h, err: err}
		}(v)
	}
	for done := 0; done < numViews; done++ {
		res := <-resultChan
		if res.err != nil {
			return res.err
		}
		floats.Add(grad.Elements, res.grad.Elements)
		floats.Add(curv.Elements, res.curv.Elements)
	}

	// Preconditioned direction, with the optional quadratic prior folded
	// into numerator and curvature.
	delta := sparse.ZerosDense(len(subset), numSlices)
	for si, pix := range subset {
		for k := 0; k < numSlices; k++ {
			e := si*numSlices + k
			num := grad.Elements[e]
			den := curv.Elements[e]
			if opts.RegWeight > 0 {
				pg, pc := priorTerms(volume, rs, pix, k, opts.RegWeight)
				num -= pg
				den += pc
			}
			if den <= 0 {
				continue
			}
			d := num / den
			if opts.Positivity {
				cur := volume.Elements[pix*numSlices+k]
				if cur+d < 0 {
					d = -cur
				}
			}
			delta.Elements[e] = d
		}
	}

	// Forward project the direction and compute the optimal step
	// alpha = <w e, F d> / <w F d, F d>, clamped to (0, 1] so the
	// positivity adjustment survives the scaling.
	fd := make([]*sparse.DenseArray, numViews)
	var num, den float64
	for v := 0; v < numViews; v++ {
		proj, err := m.ForwardProjectPixels(delta, subset, v)
		if err != nil {
			return err
		}
		fd[v] = proj
		off := v * viewSize
		for i, p := range proj.Elements {
			num += wts.Elements[off+i] * errSino.Elements[off+i] * p
			den += wts.Elements[off+i] * p * p
		}
	}
	if den <= 0 || num <= 0 {
		return nil
	}
	alpha := num / den
	if alpha > 1 {
		alpha = 1
	}

	for si, pix := range subset {
		for k := 0; k < numSlices; k++ {
			volume.Elements[pix*numSlices+k] += alpha * delta.Elements[si*numSlices+k]
		}
	}
	for v := 0; v < numViews; v++ {
		off := v * viewSize
		floats.AddScaled(errSino.Elements[off:off+viewSize], -alpha, fd[v].Elements)
	}
	return nil
}

// weightedRMSE returns sqrt(sum(w e^2) / sum(w)).
func weightedRMSE(errSino, wts *sparse.DenseArray) float64 {
	var num float64
	for i, e := range errSino.Elements {
		num += wts.Elements[i] * e * e
	}
	den := floats.Sum(wts.Elements)
	if den == 0 {
		return 0
	}
	return math.Sqrt(num / den)
}
