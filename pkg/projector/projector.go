package projector

import (
	"fmt"

	"github.com/ctessum/sparse"
)

// InputShapeError reports an array of the wrong rank or dimensions passed
// to a projection operator. It is raised before any computation runs.
type InputShapeError struct {
	// Name identifies the offending argument.
	Name string

	// Got is the shape that was passed.
	Got []int

	// Want describes the expected shape.
	Want string
}

func (e *InputShapeError) Error() string {
	return fmt.Sprintf("projector: %s has shape %v, want %s", e.Name, e.Got, e.Want)
}

// ForwardProjectView projects a batch of voxel values onto the detector for
// a single view. voxelValues must have shape (numIndices, numSlices), where
// voxelValues[i, k] is the value of the voxel in slice k at plane position
// pixelIndices[i]. The result is a zero-initialized (detRows, detChannels)
// detector image into which contributions are scatter-accumulated: taps
// from different voxels that target the same detector cell sum.
func ForwardProjectView(voxelValues *sparse.DenseArray, pixelIndices []int, angle float64, params Params, radius int) (*sparse.DenseArray, error) {
	if len(voxelValues.Shape) != 2 {
		return nil, &InputShapeError{Name: "voxelValues", Got: voxelValues.Shape, Want: "(numIndices, numSlices)"}
	}
	numSlices := params.ReconShape[2]
	if voxelValues.Shape[0] != len(pixelIndices) || voxelValues.Shape[1] != numSlices {
		return nil, &InputShapeError{
			Name: "voxelValues",
			Got:  voxelValues.Shape,
			Want: fmt.Sprintf("(%d, %d)", len(pixelIndices), numSlices),
		}
	}

	k, err := BuildKernel(pixelIndices, angle, params, radius)
	if err != nil {
		return nil, err
	}

	numDetRows, numDetChannels := params.SinogramShape[1], params.SinogramShape[2]
	view := sparse.ZerosDense(numDetRows, numDetChannels)

	// Entry e corresponds to voxelValues.Elements[e]: the kernel orders
	// entries with slice varying fastest, exactly the row-major layout of
	// the (numIndices, numSlices) value array.
	for e := 0; e < k.Entries; e++ {
		val := voxelValues.Elements[e]
		if val == 0 {
			continue
		}
		base := e * k.Taps
		for a := 0; a < k.Taps; a++ {
			rw := k.RowWeight[base+a]
			if rw == 0 {
				continue
			}
			row := k.RowIndex[base+a]
			for b := 0; b < k.Taps; b++ {
				cw := k.ChanWeight[base+b]
				if cw == 0 {
					continue
				}
				col := k.ChanIndex[base+b]
				view.Elements[row*numDetChannels+col] += val * rw * cw
			}
		}
	}

	return view, nil
}

// BackProjectView gathers a single detector view back into voxel space for
// the given plane indices. The result has shape (numIndices, numSlices)
// with slice varying fastest, matching the kernel entry ordering; summing
// across slices is left to the caller.
//
// coeffPower is normally 1. With coeffPower 2 the weight product is squared
// before summation, which computes the diagonal of the Hessian rather than
// the square of the back-projection.
func BackProjectView(view *sparse.DenseArray, pixelIndices []int, angle float64, params Params, coeffPower int, radius int) (*sparse.DenseArray, error) {
	if len(view.Shape) != 2 {
		return nil, &InputShapeError{Name: "view", Got: view.Shape, Want: "(detRows, detChannels)"}
	}
	numDetRows, numDetChannels := params.SinogramShape[1], params.SinogramShape[2]
	if view.Shape[0] != numDetRows || view.Shape[1] != numDetChannels {
		return nil, &InputShapeError{
			Name: "view",
			Got:  view.Shape,
			Want: fmt.Sprintf("(%d, %d)", numDetRows, numDetChannels),
		}
	}
	if coeffPower < 1 {
		return nil, fmt.Errorf("projector: coeffPower must be at least 1, got %d", coeffPower)
	}

	k, err := BuildKernel(pixelIndices, angle, params, radius)
	if err != nil {
		return nil, err
	}

	numSlices := params.ReconShape[2]
	out := sparse.ZerosDense(len(pixelIndices), numSlices)

	for e := 0; e < k.Entries; e++ {
		base := e * k.Taps
		var sum float64
		for a := 0; a < k.Taps; a++ {
			rw := k.RowWeight[base+a]
			if rw == 0 {
				continue
			}
			row := k.RowIndex[base+a]
			for b := 0; b < k.Taps; b++ {
				cw := k.ChanWeight[base+b]
				if cw == 0 {
					continue
				}
				col := k.ChanIndex[base+b]
				w := rw * cw
				if coeffPower == 2 {
					w *= w
				} else {
					for c := 1; c < coeffPower; c++ {
						w *= rw * cw
					}
				}
				sum += view.Elements[row*numDetChannels+col] * w
			}
		}
		out.Elements[e] = sum
	}

	return out, nil
}
