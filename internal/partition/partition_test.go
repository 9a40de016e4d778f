package partition

import "testing"

// TestGenerateCovers verifies that every pixel appears in exactly one
// subset of the partition.
func TestGenerateCovers(t *testing.T) {
	tests := []struct {
		numPixels   int
		granularity int
	}{
		{64, 1},
		{64, 4},
		{100, 7}, // uneven split
		{5, 5},
	}

	for _, tt := range tests {
		p, err := Generate(tt.numPixels, tt.granularity, 42)
		if err != nil {
			t.Fatalf("Generate(%d, %d): %v", tt.numPixels, tt.granularity, err)
		}
		if len(p) != tt.granularity {
			t.Errorf("Generate(%d, %d): got %d subsets", tt.numPixels, tt.granularity, len(p))
		}

		seen := make([]int, tt.numPixels)
		for _, subset := range p {
			for _, idx := range subset {
				if idx < 0 || idx >= tt.numPixels {
					t.Fatalf("index %d outside plane of %d pixels", idx, tt.numPixels)
				}
				seen[idx]++
			}
		}
		for idx, count := range seen {
			if count != 1 {
				t.Errorf("pixel %d appears %d times, want exactly once", idx, count)
			}
		}
	}
}

func TestGenerateDeterministic(t *testing.T) {
	a, err := Generate(128, 8, 7)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Generate(128, 8, 7)
	if err != nil {
		t.Fatal(err)
	}

	for s := range a {
		if len(a[s]) != len(b[s]) {
			t.Fatalf("subset %d sizes differ", s)
		}
		for i := range a[s] {
			if a[s][i] != b[s][i] {
				t.Fatalf("subset %d differs at position %d with equal seeds", s, i)
			}
		}
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	if _, err := Generate(0, 1, 0); err == nil {
		t.Error("expected error for zero pixels")
	}
	if _, err := Generate(10, 0, 0); err == nil {
		t.Error("expected error for zero granularity")
	}
	if _, err := Generate(10, 11, 0); err == nil {
		t.Error("expected error for granularity above pixel count")
	}
}

func TestSequenceCycles(t *testing.T) {
	seq, err := NewSequence([]int{0, 0, 1, 2}, 3)
	if err != nil {
		t.Fatal(err)
	}

	want := []int{0, 0, 1, 2, 0, 0, 1, 2}
	for it, w := range want {
		if got := seq.At(it); got != w {
			t.Errorf("At(%d) = %d, want %d", it, got, w)
		}
	}
}

func TestSequenceValidates(t *testing.T) {
	if _, err := NewSequence(nil, 3); err == nil {
		t.Error("expected error for empty sequence")
	}
	if _, err := NewSequence([]int{3}, 3); err == nil {
		t.Error("expected error for out-of-range entry")
	}
}
