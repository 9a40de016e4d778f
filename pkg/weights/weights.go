// Package weights builds sinogram weight maps for the statistical data
// term. Weights approximate the inverse noise variance of each detector
// measurement under the chosen acquisition model.
package weights

import (
	"fmt"
	"math"

	"github.com/ctessum/sparse"
)

// Type selects the noise model used to derive weights from a sinogram.
type Type int

const (
	// Unweighted assigns every measurement weight 1.
	Unweighted Type = iota

	// Transmission weights by exp(-sinogram), the photon-count variance
	// model for transmission scans.
	Transmission

	// TransmissionRoot weights by exp(-sinogram/2), a softer variant that
	// is more robust to metal and beam hardening.
	TransmissionRoot

	// Emission weights by 1/(|sinogram| + 0.1) for emission scans.
	Emission
)

// String returns the configuration name of the weight type.
func (t Type) String() string {
	switch t {
	case Unweighted:
		return "unweighted"
	case Transmission:
		return "transmission"
	case TransmissionRoot:
		return "transmission_root"
	case Emission:
		return "emission"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// ParseType converts a configuration name into a weight Type.
func ParseType(name string) (Type, error) {
	switch name {
	case "unweighted", "":
		return Unweighted, nil
	case "transmission":
		return Transmission, nil
	case "transmission_root":
		return TransmissionRoot, nil
	case "emission":
		return Emission, nil
	default:
		return 0, fmt.Errorf("weights: unknown weight type %q", name)
	}
}

// Generate computes a weight map with the same shape as the sinogram.
// Transmission-type inputs are expected to be normalized (divided by their
// maximum) before calling, so the weights stay in (0, 1].
func Generate(sinogram *sparse.DenseArray, t Type) (*sparse.DenseArray, error) {
	w := sparse.ZerosDense(sinogram.Shape...)

	switch t {
	case Unweighted:
		for i := range w.Elements {
			w.Elements[i] = 1
		}
	case Transmission:
		for i, s := range sinogram.Elements {
			w.Elements[i] = math.Exp(-s)
		}
	case TransmissionRoot:
		for i, s := range sinogram.Elements {
			w.Elements[i] = math.Exp(-s / 2)
		}
	case Emission:
		for i, s := range sinogram.Elements {
			w.Elements[i] = 1 / (math.Abs(s) + 0.1)
		}
	default:
		return nil, fmt.Errorf("weights: unknown weight type %d", int(t))
	}

	return w, nil
}
