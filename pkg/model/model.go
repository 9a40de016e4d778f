// Package model ties the cone-beam projector to a validated scanner
// configuration. A Model is constructed once per reconstruction, checks all
// shape and geometry invariants eagerly, and then exposes whole-sinogram
// forward and back projection across views.
package model

import (
	"fmt"

	"github.com/ctessum/sparse"

	"conebeamrecon/pkg/geometry"
	"conebeamrecon/pkg/projector"
)

// ConfigurationError reports an invalid model configuration, such as
// mismatched view-dependent vector lengths. It is raised at construction
// time, before any projection allocates.
type ConfigurationError struct {
	// Param names the offending configuration parameter.
	Param string

	// Detail describes the mismatch.
	Detail string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("model configuration: %s: %s", e.Param, e.Detail)
}

// Config holds everything needed to construct a cone-beam model.
type Config struct {
	// SinogramShape is (views, detector rows, detector channels).
	SinogramShape [3]int

	// Angles holds one view angle in radians per sinogram view.
	Angles []float64

	// Geometry is the scanner geometry. A zero DeltaVoxel is replaced by
	// the detector channel pitch divided by the magnification, which
	// makes the default reconstruction grid exactly fill the detector
	// field of view.
	Geometry geometry.Parameters

	// ReconShape is (rows, cols, slices). The zero value selects the
	// default (channels, channels, detector rows).
	ReconShape [3]int

	// FootprintRadius is the projection footprint half-width in detector
	// cells; zero selects projector.DefaultFootprintRadius.
	FootprintRadius int
}

// Model is an immutable cone-beam tomography model. All methods are safe
// for concurrent use.
type Model struct {
	sinogramShape [3]int
	reconShape    [3]int
	geom          geometry.Parameters
	radius        int

	// viewParams stores the view-dependent parameter vectors, one row
	// per view. The only view-dependent parameter in this geometry is
	// the angle, but the row count is still validated against the view
	// count.
	viewParams [][]float64
}

// New validates the configuration and constructs the model. It returns a
// ConfigurationError identifying the offending parameter when any invariant
// fails.
func New(cfg Config) (*Model, error) {
	views, detRows, detChannels := cfg.SinogramShape[0], cfg.SinogramShape[1], cfg.SinogramShape[2]
	if views <= 0 || detRows <= 0 || detChannels <= 0 {
		return nil, &ConfigurationError{
			Param:  "SinogramShape",
			Detail: fmt.Sprintf("all dimensions must be positive, got %v", cfg.SinogramShape),
		}
	}

	if len(cfg.Angles) != views {
		return nil, &ConfigurationError{
			Param: "Angles",
			Detail: fmt.Sprintf("number of view-dependent parameter vectors must equal the number of views: got %d angles and %d views",
				len(cfg.Angles), views),
		}
	}

	geom := cfg.Geometry
	if geom.DeltaVoxel == 0 && geom.Magnification != 0 {
		geom.DeltaVoxel = geom.DeltaDetChannel / geom.Magnification
	}
	if err := geom.Validate(); err != nil {
		return nil, &ConfigurationError{Param: "Geometry", Detail: err.Error()}
	}

	reconShape := cfg.ReconShape
	if reconShape == [3]int{} {
		reconShape = [3]int{detChannels, detChannels, detRows}
	}
	if reconShape[0] <= 0 || reconShape[1] <= 0 || reconShape[2] <= 0 {
		return nil, &ConfigurationError{
			Param:  "ReconShape",
			Detail: fmt.Sprintf("all dimensions must be positive, got %v", reconShape),
		}
	}
	if reconShape[2] != detRows {
		return nil, &ConfigurationError{
			Param: "ReconShape",
			Detail: fmt.Sprintf("number of recon slices must match number of sinogram rows: got %v for recon shape and %v for sinogram shape",
				reconShape, cfg.SinogramShape),
		}
	}

	// No voxel may reach the source plane at any view angle; bounding the
	// configuration here keeps the batched kernel free of degenerate
	// geometry.
	if err := checkSourceClearance(geom, reconShape); err != nil {
		return nil, err
	}

	radius := cfg.FootprintRadius
	if radius == 0 {
		radius = projector.DefaultFootprintRadius
	}
	if radius < 1 {
		return nil, &ConfigurationError{
			Param:  "FootprintRadius",
			Detail: fmt.Sprintf("must be at least 1, got %d", radius),
		}
	}

	viewParams := make([][]float64, views)
	for v, a := range cfg.Angles {
		viewParams[v] = []float64{a}
	}

	return &Model{
		sinogramShape: cfg.SinogramShape,
		reconShape:    reconShape,
		geom:          geom,
		radius:        radius,
		viewParams:    viewParams,
	}, nil
}

// checkSourceClearance rejects configurations whose reconstruction cylinder
// can rotate into the source plane.
func checkSourceClearance(geom geometry.Parameters, reconShape [3]int) error {
	halfRows := geom.DeltaVoxel * float64(reconShape[0]) / 2.0
	halfCols := geom.DeltaVoxel * float64(reconShape[1]) / 2.0
	radius := halfRows
	if halfCols > radius {
		radius = halfCols
	}
	// The in-plane reach of any voxel under rotation.
	reach := radius * 1.41421356237309515

	if reach >= geom.SourceIsoDist() {
		return &ConfigurationError{
			Param: "Geometry",
			Detail: fmt.Sprintf("reconstruction radius %g ALU reaches the source plane at source-iso distance %g ALU; shrink the grid or the magnification",
				reach, geom.SourceIsoDist()),
		}
	}
	return nil
}

// SinogramShape returns (views, detector rows, detector channels).
func (m *Model) SinogramShape() [3]int { return m.sinogramShape }

// ReconShape returns (rows, cols, slices).
func (m *Model) ReconShape() [3]int { return m.reconShape }

// Geometry returns the validated scanner geometry.
func (m *Model) Geometry() geometry.Parameters { return m.geom }

// FootprintRadius returns the projection footprint half-width.
func (m *Model) FootprintRadius() int { return m.radius }

// NumViews returns the number of sinogram views.
func (m *Model) NumViews() int { return m.sinogramShape[0] }

// ViewAngle returns the angle of view v in radians.
func (m *Model) ViewAngle(v int) float64 { return m.viewParams[v][0] }

// ProjectorParams returns the parameter bundle passed to every projector
// call.
func (m *Model) ProjectorParams() projector.Params {
	return projector.Params{
		SinogramShape: m.sinogramShape,
		ReconShape:    m.reconShape,
		Geometry:      m.geom,
	}
}

// AllPixelIndices returns the indices of every voxel in the flattened
// reconstruction plane, in order.
func (m *Model) AllPixelIndices() []int {
	indices := make([]int, m.reconShape[0]*m.reconShape[1])
	for i := range indices {
		indices[i] = i
	}
	return indices
}

// planeValues reshapes a (rows, cols, slices) volume into the
// (numPixels, numSlices) value array the projector consumes. The layouts
// coincide, so this is a copy with a shape change.
func (m *Model) planeValues(volume *sparse.DenseArray) *sparse.DenseArray {
	values := sparse.ZerosDense(m.reconShape[0]*m.reconShape[1], m.reconShape[2])
	copy(values.Elements, volume.Elements)
	return values
}

func (m *Model) checkVolumeShape(name string, volume *sparse.DenseArray) error {
	if len(volume.Shape) != 3 ||
		volume.Shape[0] != m.reconShape[0] || volume.Shape[1] != m.reconShape[1] || volume.Shape[2] != m.reconShape[2] {
		return &projector.InputShapeError{
			Name: name,
			Got:  volume.Shape,
			Want: fmt.Sprintf("(%d, %d, %d)", m.reconShape[0], m.reconShape[1], m.reconShape[2]),
		}
	}
	return nil
}

func (m *Model) checkSinogramShape(name string, sino *sparse.DenseArray) error {
	if len(sino.Shape) != 3 ||
		sino.Shape[0] != m.sinogramShape[0] || sino.Shape[1] != m.sinogramShape[1] || sino.Shape[2] != m.sinogramShape[2] {
		return &projector.InputShapeError{
			Name: name,
			Got:  sino.Shape,
			Want: fmt.Sprintf("(%d, %d, %d)", m.sinogramShape[0], m.sinogramShape[1], m.sinogramShape[2]),
		}
	}
	return nil
}

// ForwardProject projects a full (rows, cols, slices) volume into a
// (views, rows, channels) sinogram. Views are independent and are computed
// in parallel.
func (m *Model) ForwardProject(volume *sparse.DenseArray) (*sparse.DenseArray, error) {
	if err := m.checkVolumeShape("volume", volume); err != nil {
		return nil, err
	}

	indices := m.AllPixelIndices()
	values := m.planeValues(volume)
	params := m.ProjectorParams()

	sino := sparse.ZerosDense(m.sinogramShape[0], m.sinogramShape[1], m.sinogramShape[2])
	viewSize := m.sinogramShape[1] * m.sinogramShape[2]

	type viewResult struct {
		view int
		data *sparse.DenseArray
		err  error
	}
	resultChan := make(chan viewResult)

	for v := 0; v < m.NumViews(); v++ {
		go func(v int) {
			view, err := projector.ForwardProjectView(values, indices, m.ViewAngle(v), params, m.radius)
			resultChan <- viewResult{view: v, data: view, err: err}
		}(v)
	}

	for done := 0; done < m.NumViews(); done++ {
		res := <-resultChan
		if res.err != nil {
			return nil, fmt.Errorf("forward projection of view %d failed: %w", res.view, res.err)
		}
		copy(sino.Elements[res.view*viewSize:(res.view+1)*viewSize], res.data.Elements)
	}

	return sino, nil
}

// SinogramView copies view v of a (views, rows, channels) sinogram into a
// (rows, channels) array.
func (m *Model) SinogramView(sino *sparse.DenseArray, v int) *sparse.DenseArray {
	viewSize := m.sinogramShape[1] * m.sinogramShape[2]
	view := sparse.ZerosDense(m.sinogramShape[1], m.sinogramShape[2])
	copy(view.Elements, sino.Elements[v*viewSize:(v+1)*viewSize])
	return view
}

// ForwardProjectPixels projects values for a subset of plane pixels into a
// single view. values must have shape (len(indices), numSlices).
func (m *Model) ForwardProjectPixels(values *sparse.DenseArray, indices []int, view int) (*sparse.DenseArray, error) {
	return projector.ForwardProjectView(values, indices, m.ViewAngle(view), m.ProjectorParams(), m.radius)
}

// BackProjectPixels gathers a single (rows, channels) view into a
// (len(indices), numSlices) contribution array for a subset of plane
// pixels. coeffPower 2 produces the diagonal-Hessian contribution.
func (m *Model) BackProjectPixels(viewData *sparse.DenseArray, indices []int, view int, coeffPower int) (*sparse.DenseArray, error) {
	return projector.BackProjectView(viewData, indices, m.ViewAngle(view), m.ProjectorParams(), coeffPower, m.radius)
}

// backProjectPower back-projects every view of a sinogram into a volume,
// summing view contributions. The sum is associative and commutative, so
// view completion order does not matter.
func (m *Model) backProjectPower(sino *sparse.DenseArray, coeffPower int) (*sparse.DenseArray, error) {
	indices := m.AllPixelIndices()
	params := m.ProjectorParams()

	type viewResult struct {
		view int
		data *sparse.DenseArray
		err  error
	}
	resultChan := make(chan viewResult)

	for v := 0; v < m.NumViews(); v++ {
		go func(v int) {
			contrib, err := projector.BackProjectView(m.SinogramView(sino, v), indices, m.ViewAngle(v), params, coeffPower, m.radius)
			resultChan <- viewResult{view: v, data: contrib, err: err}
		}(v)
	}

	volume := sparse.ZerosDense(m.reconShape[0], m.reconShape[1], m.reconShape[2])
	for done := 0; done < m.NumViews(); done++ {
		res := <-resultChan
		if res.err != nil {
			return nil, fmt.Errorf("back projection of view %d failed: %w", res.view, res.err)
		}
		// The (numPixels, numSlices) contribution layout matches the
		// volume layout element for element.
		for i, c := range res.data.Elements {
			volume.Elements[i] += c
		}
	}

	return volume, nil
}

// BackProject gathers a full (views, rows, channels) sinogram into a
// (rows, cols, slices) volume, the adjoint of ForwardProject.
func (m *Model) BackProject(sino *sparse.DenseArray) (*sparse.DenseArray, error) {
	if err := m.checkSinogramShape("sinogram", sino); err != nil {
		return nil, err
	}
	return m.backProjectPower(sino, 1)
}

// HessianDiagonal back-projects the given sinogram weights with squared
// kernel coefficients, producing the diagonal of the Hessian of the
// weighted-least-squares data term. A nil weights argument uses unit
// weights.
func (m *Model) HessianDiagonal(weights *sparse.DenseArray) (*sparse.DenseArray, error) {
	if weights == nil {
		weights = sparse.ZerosDense(m.sinogramShape[0], m.sinogramShape[1], m.sinogramShape[2])
		for i := range weights.Elements {
			weights.Elements[i] = 1
		}
	} else if err := m.checkSinogramShape("weights", weights); err != nil {
		return nil, err
	}
	return m.backProjectPower(weights, 2)
}
