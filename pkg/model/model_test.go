package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"

	"conebeamrecon/pkg/geometry"
	"conebeamrecon/pkg/projector"
)

func testGeometry() geometry.Parameters {
	return geometry.Parameters{
		DeltaDetChannel:    1.0,
		DeltaDetRow:        1.0,
		SourceDetectorDist: 256.0,
		Magnification:      1.0,
		DeltaVoxel:         1.0,
	}
}

// evenAngles returns n angles evenly spaced over a span covering pi plus
// the detector cone angle, as the reconstruction driver uses.
func evenAngles(n, numChannels int, sourceDetectorDist float64) []float64 {
	coneAngle := 2 * math.Atan2(float64(numChannels)/2, sourceDetectorDist)
	span := math.Pi + coneAngle
	angles := make([]float64, n)
	for i := range angles {
		angles[i] = -span/2 + span*float64(i)/float64(n)
	}
	return angles
}

func TestNewValidatesAngleCount(t *testing.T) {
	cfg := Config{
		SinogramShape: [3]int{32, 32, 64},
		Angles:        make([]float64, 16), // 16 angles for 32 views
		Geometry:      testGeometry(),
		ReconShape:    [3]int{64, 64, 32},
	}

	_, err := New(cfg)
	if err == nil {
		t.Fatal("expected ConfigurationError for 16 angles with 32 views")
	}
	cerr, ok := err.(*ConfigurationError)
	if !ok {
		t.Fatalf("expected *ConfigurationError, got %T: %v", err, err)
	}
	if cerr.Param != "Angles" {
		t.Errorf("error names parameter %q, want \"Angles\"", cerr.Param)
	}
}

func TestNewValidatesSliceCount(t *testing.T) {
	cfg := Config{
		SinogramShape: [3]int{8, 32, 64},
		Angles:        make([]float64, 8),
		Geometry:      testGeometry(),
		ReconShape:    [3]int{64, 64, 31}, // 31 slices for 32 detector rows
	}

	if _, err := New(cfg); err == nil {
		t.Fatal("expected ConfigurationError for recon slices != sinogram rows")
	}
}

func TestNewValidatesSourceClearance(t *testing.T) {
	geom := testGeometry()
	geom.SourceDetectorDist = 20
	geom.Magnification = 2 // source-iso distance 10, grid reach far beyond

	cfg := Config{
		SinogramShape: [3]int{8, 32, 64},
		Angles:        make([]float64, 8),
		Geometry:      geom,
		ReconShape:    [3]int{64, 64, 32},
	}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected ConfigurationError for grid reaching the source plane")
	}
}

func TestNewDefaults(t *testing.T) {
	geom := testGeometry()
	geom.Magnification = 2.0
	geom.SourceDetectorDist = 512.0
	geom.DeltaVoxel = 0 // derive from channel pitch and magnification

	m, err := New(Config{
		SinogramShape: [3]int{8, 16, 32},
		Angles:        make([]float64, 8),
		Geometry:      geom,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if got, want := m.ReconShape(), [3]int{32, 32, 16}; got != want {
		t.Errorf("default recon shape: got %v, want %v", got, want)
	}
	if got := m.Geometry().DeltaVoxel; math.Abs(got-0.5) > 1e-12 {
		t.Errorf("default voxel pitch: got %g, want 0.5", got)
	}
	if m.FootprintRadius() != projector.DefaultFootprintRadius {
		t.Errorf("default footprint radius: got %d", m.FootprintRadius())
	}
}

func TestForwardProjectRejectsWrongShape(t *testing.T) {
	m := smallModel(t)

	_, err := m.ForwardProject(sparse.ZerosDense(8, 8))
	if err == nil {
		t.Fatal("expected InputShapeError for rank-2 volume")
	}
	if _, ok := err.(*projector.InputShapeError); !ok {
		t.Errorf("expected *projector.InputShapeError, got %T", err)
	}
}

func smallModel(t *testing.T) *Model {
	t.Helper()
	m, err := New(Config{
		SinogramShape: [3]int{4, 8, 8},
		Angles:        evenAngles(4, 8, 256),
		Geometry:      testGeometry(),
		ReconShape:    [3]int{8, 8, 8},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

// TestModelAdjointness checks that whole-sinogram forward and back
// projection remain exact adjoints after the per-view fan-out and
// accumulation.
func TestModelAdjointness(t *testing.T) {
	m := smallModel(t)
	rng := rand.New(rand.NewSource(3))

	x := sparse.ZerosDense(8, 8, 8)
	for i := range x.Elements {
		x.Elements[i] = rng.Float64()
	}
	y := sparse.ZerosDense(4, 8, 8)
	for i := range y.Elements {
		y.Elements[i] = rng.Float64()
	}

	fx, err := m.ForwardProject(x)
	if err != nil {
		t.Fatalf("ForwardProject: %v", err)
	}
	by, err := m.BackProject(y)
	if err != nil {
		t.Fatalf("BackProject: %v", err)
	}

	lhs := floats.Dot(fx.Elements, y.Elements)
	rhs := floats.Dot(x.Elements, by.Elements)
	if !scalar.EqualWithinAbsOrRel(lhs, rhs, 1e-9, 1e-5) {
		t.Errorf("<Fx, y> = %.12g but <x, By> = %.12g", lhs, rhs)
	}
}

func TestHessianDiagonalPositive(t *testing.T) {
	m := smallModel(t)

	h, err := m.HessianDiagonal(nil)
	if err != nil {
		t.Fatalf("HessianDiagonal: %v", err)
	}

	// Interior voxels always project somewhere, so their curvature is
	// strictly positive.
	center := h.Get(4, 4, 4)
	if center <= 0 {
		t.Errorf("central Hessian diagonal entry is %g, want > 0", center)
	}
	for _, v := range h.Elements {
		if v < 0 {
			t.Fatalf("negative Hessian diagonal entry %g", v)
		}
	}
}

// TestEndToEndScenario runs the reference scenario: a 32-view 32x64
// detector, a 64x64x32 reconstruction grid, and angles spanning pi plus the
// detector cone angle. A zero phantom projects to zeros; a single unit
// voxel near the center projects, at every view, into a small neighborhood
// of the geometrically predicted detector position with total energy close
// to the voxel cross-section times the local magnification.
func TestEndToEndScenario(t *testing.T) {
	sinogramShape := [3]int{32, 32, 64}
	reconShape := [3]int{64, 64, 32}
	geom := testGeometry()
	geom.SourceDetectorDist = 4 * 64
	angles := evenAngles(32, 64, geom.SourceDetectorDist)

	m, err := New(Config{
		SinogramShape: sinogramShape,
		Angles:        angles,
		Geometry:      geom,
		ReconShape:    reconShape,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	zero := sparse.ZerosDense(reconShape[0], reconShape[1], reconShape[2])
	sino, err := m.ForwardProject(zero)
	if err != nil {
		t.Fatalf("ForwardProject(zero): %v", err)
	}
	if s := sino.Sum(); s != 0 {
		t.Errorf("zero phantom sinogram sums to %g, want 0", s)
	}

	// Single unit voxel near the center of the grid.
	vi, vj, vk := 32, 32, 15
	impulse := sparse.ZerosDense(reconShape[0], reconShape[1], reconShape[2])
	impulse.Set(1.0, vi, vj, vk)

	sino, err = m.ForwardProject(impulse)
	if err != nil {
		t.Fatalf("ForwardProject(impulse): %v", err)
	}

	for v := 0; v < m.NumViews(); v++ {
		angle := m.ViewAngle(v)

		// Predicted detector position of the impulse voxel.
		x, y, z := geometry.VoxelToPhysical(geom, vi, vj, vk, reconShape[0], reconShape[1], reconShape[2], angle)
		u, w, pixelMag, err := geometry.PhysicalToDetectorUV(geom, x, y, z)
		if err != nil {
			t.Fatalf("view %d: %v", v, err)
		}
		pm, pn := geometry.UVToDetectorIndex(geom, u, w, sinogramShape[1], sinogramShape[2])

		view := m.SinogramView(sino, v)
		var energy float64
		for r := 0; r < sinogramShape[1]; r++ {
			for c := 0; c < sinogramShape[2]; c++ {
				val := view.Get(r, c)
				if val == 0 {
					continue
				}
				if math.Abs(float64(r)-pm) > 2 || math.Abs(float64(c)-pn) > 2 {
					t.Fatalf("view %d: nonzero weight %g at (%d, %d), predicted position (%.2f, %.2f)",
						v, val, r, c, pm, pn)
				}
				energy += val
			}
		}

		want := geom.DeltaVoxel * geom.DeltaVoxel * pixelMag
		if math.Abs(energy-want) > 0.05*want {
			t.Errorf("view %d: total energy %g, want about %g", v, energy, want)
		}
	}
}
