package solver

import "github.com/ctessum/sparse"

// neighborWeight is the per-neighbor coupling of the quadratic prior,
// normalized over the 6-connected neighborhood (4 in-plane, 2 axial).
const neighborWeight = 1.0 / 6.0

// priorTerms returns the gradient and curvature contribution of the
// quadratic neighborhood prior for the voxel at plane pixel pix, slice k,
// evaluated at the current volume. Boundary voxels simply have fewer
// neighbors.
func priorTerms(volume *sparse.DenseArray, reconShape [3]int, pix, k int, regWeight float64) (grad, curv float64) {
	rows, cols, slices := reconShape[0], reconShape[1], reconShape[2]
	i := pix / cols
	j := pix % cols
	center := volume.Elements[pix*slices+k]

	add := func(ni, nj, nk int) {
		if ni < 0 || ni >= rows || nj < 0 || nj >= cols || nk < 0 || nk >= slices {
			return
		}
		neighbor := volume.Elements[(ni*cols+nj)*slices+nk]
		grad += regWeight * neighborWeight * (center - neighbor)
		curv += regWeight * neighborWeight
	}

	add(i-1, j, k)
	add(i+1, j, k)
	add(i, j-1, k)
	add(i, j+1, k)
	add(i, j, k-1)
	add(i, j, k+1)
	return grad, curv
}
