package measure

import (
	"fmt"
	"testing"

	"github.com/andresmejia3/silhouette/internal/mask"
	"github.com/google/go-cmp/cmp"
)

func TestScanRowLabelArrayScenario(t *testing.T) {
	labels := make([]int32, 30)
	copy(labels[10:], []int32{0, 0, 1, 1, 1, 1, 0, 0, 0, 0})

	g, err := mask.Normalize(mask.RawLabelArray{Labels: labels}, 10, 3)
	if err != nil {
		t.Fatal(err)
	}

	span, ok := ScanFullRow(g, 1)
	if !ok {
		t.Fatal("Expected a span on row 1")
	}
	if span != (Span{Left: 2, Right: 5}) || span.Width() != 3 {
		t.Errorf("Expected [2,5] width 3, got %+v width %d", span, span.Width())
	}
}

func TestScanRowSingleRun(t *testing.T) {
	for _, tc := range []struct{ x0, length int }{{0, 1}, {0, 20}, {3, 7}, {12, 8}, {19, 1}} {
		t.Run(fmt.Sprintf("x0=%d,L=%d", tc.x0, tc.length), func(t *testing.T) {
			g := mask.NewGrid(20, 4)
			fillRun(g, 2, tc.x0, tc.x0+tc.length-1)

			span, ok := ScanFullRow(g, 2)
			if !ok {
				t.Fatal("Expected a span")
			}
			want := Span{Left: tc.x0, Right: tc.x0 + tc.length - 1}
			if diff := cmp.Diff(want, span); diff != "" {
				t.Errorf("span mismatch (-want +got):\n%s", diff)
			}
			if span.Width() != tc.length-1 {
				t.Errorf("Expected width %d, got %d", tc.length-1, span.Width())
			}
		})
	}
}

func TestScanRowEmpty(t *testing.T) {
	pix := make([]uint8, 8*4*4) // all alpha = 0
	g, err := mask.Normalize(mask.AlphaRaster{Pix: pix}, 8, 4)
	if err != nil {
		t.Fatal(err)
	}
	if g.Count() != 0 {
		t.Fatalf("Expected an all-background grid, got %d foreground pixels", g.Count())
	}
	for y := 0; y < 4; y++ {
		if span, ok := ScanFullRow(g, y); ok {
			t.Errorf("Row %d: expected no width, got %+v", y, span)
		}
	}
}

func TestScanRowWindow(t *testing.T) {
	g := mask.NewGrid(20, 3)
	fillRun(g, 1, 2, 4)
	fillRun(g, 1, 10, 12)
	fillRun(g, 1, 17, 18)

	tests := []struct {
		name   string
		y      int
		x0, x1 int
		want   Span
		wantOK bool
	}{
		{"Full window", 1, 0, 19, Span{2, 18}, true},
		{"Middle only", 1, 6, 14, Span{10, 12}, true},
		{"Window cuts a run", 1, 11, 17, Span{11, 17}, true},
		{"Reversed window", 1, 14, 6, Span{10, 12}, true},
		{"Window clipped to row", 1, -5, 100, Span{2, 18}, true},
		{"Window left of image", 1, -10, -1, Span{}, false},
		{"Window right of image", 1, 20, 30, Span{}, false},
		{"Empty gap", 1, 5, 9, Span{}, false},
		{"Row below clamps to last row", 7, 0, 19, Span{}, false},
		{"Row above clamps to first row", -3, 0, 19, Span{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ScanRow(g, tt.y, tt.x0, tt.x1)
			if ok != tt.wantOK {
				t.Fatalf("ScanRow ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("ScanRow = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestScanRowClampsY(t *testing.T) {
	g := mask.NewGrid(5, 3)
	fillRun(g, 2, 1, 3)
	span, ok := ScanFullRow(g, 99)
	if !ok || span.Width() != 2 {
		t.Errorf("Expected row index to clamp to the last row, got %+v ok=%v", span, ok)
	}
}

func TestScanRowNilGrid(t *testing.T) {
	if _, ok := ScanRow(nil, 0, 0, 10); ok {
		t.Error("Expected no span for a nil grid")
	}
}

func TestAggregate(t *testing.T) {
	s := float32(10)
	w := 7
	r := Aggregate(&s, nil, &w)
	if r.ShoulderWidthPx != &s || r.WaistWidthPx != &w || r.HipWidthPx != nil {
		t.Errorf("Aggregate must pass fields through untouched, got %+v", r)
	}
	if r.Complete() {
		t.Error("Result with a missing hip should not be complete")
	}
	if diff := cmp.Diff([]string{"hip"}, r.Missing()); diff != "" {
		t.Errorf("Missing mismatch (-want +got):\n%s", diff)
	}
	if got := r.String(); got != "shoulder=10.0 waist=7 hip=N/A" {
		t.Errorf("Unexpected String(): %q", got)
	}
}
