// Package partition divides the flattened reconstruction plane into voxel
// subsets for the coordinate-descent solver. A partition at granularity G
// splits the plane into G subsets of near-equal size; the solver alternates
// between coarse and fine granularities across iterations.
package partition

import (
	"fmt"
	"math/rand"
)

// Partition is an ordered list of disjoint pixel-index subsets that
// together cover the whole reconstruction plane exactly once.
type Partition [][]int

// Generate builds a partition of numPixels plane indices into granularity
// subsets. Pixels are assigned by a deterministic shuffle so each subset
// samples the whole plane rather than a contiguous block; the same seed
// always produces the same partition.
func Generate(numPixels, granularity int, seed int64) (Partition, error) {
	if numPixels <= 0 {
		return nil, fmt.Errorf("partition: numPixels must be positive, got %d", numPixels)
	}
	if granularity < 1 || granularity > numPixels {
		return nil, fmt.Errorf("partition: granularity must be in [1, %d], got %d", numPixels, granularity)
	}

	perm := rand.New(rand.NewSource(seed)).Perm(numPixels)

	subsets := make(Partition, granularity)
	base := numPixels / granularity
	extra := numPixels % granularity
	pos := 0
	for s := range subsets {
		size := base
		if s < extra {
			size++
		}
		subsets[s] = append([]int(nil), perm[pos:pos+size]...)
		pos += size
	}
	return subsets, nil
}

// Sequence maps a solver iteration to a partition choice. It cycles through
// the configured order, repeating the final entry pattern indefinitely.
type Sequence struct {
	order []int
}

// NewSequence builds a partition sequence from the given order of indices
// into a granularity list of length numPartitions.
func NewSequence(order []int, numPartitions int) (*Sequence, error) {
	if len(order) == 0 {
		return nil, fmt.Errorf("partition: sequence order must not be empty")
	}
	for _, idx := range order {
		if idx < 0 || idx >= numPartitions {
			return nil, fmt.Errorf("partition: sequence entry %d outside [0, %d)", idx, numPartitions)
		}
	}
	return &Sequence{order: append([]int(nil), order...)}, nil
}

// At returns the partition index to use at the given iteration.
func (s *Sequence) At(iteration int) int {
	return s.order[iteration%len(s.order)]
}
