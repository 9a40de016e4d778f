package visualization

import (
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/ctessum/sparse"
)

func testVolume() *sparse.DenseArray {
	vol := sparse.ZerosDense(4, 6, 8)
	// A bright voxel and a gradient so normalization has a real range.
	vol.Set(2.0, 1, 2, 3)
	for k := 0; k < 8; k++ {
		vol.Set(float64(k)/8, 3, 5, k)
	}
	return vol
}

func TestNewViewerRejectsWrongRank(t *testing.T) {
	if _, err := NewViewer(sparse.ZerosDense(4, 6)); err == nil {
		t.Error("expected error for rank-2 volume")
	}
}

func TestExtractSliceShapes(t *testing.T) {
	viewer, err := NewViewer(testVolume())
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}

	tests := []struct {
		axis          string
		position      int
		width, height int
	}{
		{"x", 1, 6, 8},
		{"y", 2, 4, 8},
		{"z", 3, 4, 6},
	}

	for _, tt := range tests {
		img, err := viewer.ExtractSlice(tt.axis, tt.position)
		if err != nil {
			t.Fatalf("ExtractSlice(%q, %d): %v", tt.axis, tt.position, err)
		}
		bounds := img.Bounds()
		if bounds.Dx() != tt.width || bounds.Dy() != tt.height {
			t.Errorf("axis %q: got %dx%d, want %dx%d", tt.axis, bounds.Dx(), bounds.Dy(), tt.width, tt.height)
		}
	}
}

func TestExtractSliceBrightestVoxel(t *testing.T) {
	viewer, err := NewViewer(testVolume())
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}

	img, err := viewer.ExtractSlice("z", 3)
	if err != nil {
		t.Fatalf("ExtractSlice: %v", err)
	}

	// The maximum voxel normalizes to full white.
	if got := img.At(1, 2).(color.Gray16).Y; got != 65535 {
		t.Errorf("brightest voxel renders as %d, want 65535", got)
	}
	if got := img.At(0, 0).(color.Gray16).Y; got != 0 {
		t.Errorf("zero voxel renders as %d, want 0", got)
	}
}

func TestExtractSliceValidation(t *testing.T) {
	viewer, err := NewViewer(testVolume())
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}

	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("expected error for negative position")
	}
	if _, err := viewer.ExtractSlice("x", 4); err == nil {
		t.Error("expected error for position beyond rows")
	}
	if _, err := viewer.ExtractSlice("w", 0); err == nil {
		t.Error("expected error for unknown axis")
	}
}

func TestSaveSliceSequence(t *testing.T) {
	viewer, err := NewViewer(testVolume())
	if err != nil {
		t.Fatalf("NewViewer: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "slices")
	if err := viewer.SaveSliceSequence("z", dir); err != nil {
		t.Fatalf("SaveSliceSequence: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 8 {
		t.Errorf("got %d slice files, want 8", len(entries))
	}
}
