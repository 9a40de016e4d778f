// Package phantom generates synthetic test volumes for exercising the
// projector and solver without measured data.
package phantom

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

// ellipsoid describes one component of the Shepp-Logan head phantom in
// normalized [-1, 1] coordinates: center, semi-axes, in-plane rotation and
// additive density.
type ellipsoid struct {
	x0, y0, z0 float64
	a, b, c    float64
	phi        float64 // rotation about the z axis, radians
	density    float64
}

// sheppLogan3D is the modified (high-contrast) 3D Shepp-Logan ellipsoid
// table.
var sheppLogan3D = []ellipsoid{
	{0, 0, 0, 0.6900, 0.9200, 0.810, 0, 1.0},
	{0, -0.0184, 0, 0.6624, 0.8740, 0.780, 0, -0.8},
	{0.22, 0, 0, 0.1100, 0.3100, 0.220, -18 * math.Pi / 180, -0.2},
	{-0.22, 0, 0, 0.1600, 0.4100, 0.280, 18 * math.Pi / 180, -0.2},
	{0, 0.35, -0.15, 0.2100, 0.2500, 0.410, 0, 0.1},
	{0, 0.1, 0.25, 0.0460, 0.0460, 0.050, 0, 0.1},
	{0, -0.1, 0.25, 0.0460, 0.0460, 0.050, 0, 0.1},
	{-0.08, -0.605, 0, 0.0460, 0.0230, 0.050, 0, 0.1},
	{0, -0.606, 0, 0.0230, 0.0230, 0.020, 0, 0.1},
	{0.06, -0.605, 0, 0.0230, 0.0460, 0.020, 0, 0.1},
}

// SheppLogan3D renders the modified 3D Shepp-Logan phantom onto a
// (rows, cols, slices) voxel grid. Densities of overlapping ellipsoids sum,
// so interior structures appear as contrast steps on the skull background.
func SheppLogan3D(rows, cols, slices int) (*sparse.DenseArray, error) {
	if rows <= 0 || cols <= 0 || slices <= 0 {
		return nil, fmt.Errorf("phantom: grid dimensions must be positive, got (%d, %d, %d)", rows, cols, slices)
	}

	vol := sparse.ZerosDense(rows, cols, slices)

	for i := 0; i < rows; i++ {
		// Normalized coordinates center the grid on the phantom.
		x := 2 * (float64(i) - float64(rows-1)/2) / float64(rows)
		for j := 0; j < cols; j++ {
			y := 2 * (float64(j) - float64(cols-1)/2) / float64(cols)
			base := (i*cols + j) * slices
			for k := 0; k < slices; k++ {
				z := 2 * (float64(k) - float64(slices-1)/2) / float64(slices)

				var density float64
				for _, e := range sheppLogan3D {
					density += e.densityAt(x, y, z)
				}
				if density != 0 {
					vol.Elements[base+k] = density
				}
			}
		}
	}

	return vol, nil
}

// densityAt returns the ellipsoid's density contribution at the normalized
// point (x, y, z), zero outside its surface.
func (e ellipsoid) densityAt(x, y, z float64) float64 {
	dx := x - e.x0
	dy := y - e.y0
	dz := z - e.z0

	sin, cos := math.Sincos(e.phi)
	xr := cos*dx + sin*dy
	yr := -sin*dx + cos*dy

	q := (xr*xr)/(e.a*e.a) + (yr*yr)/(e.b*e.b) + (dz*dz)/(e.c*e.c)
	if q > 1 {
		return 0
	}
	return e.density
}
