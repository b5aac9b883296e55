package octree

import (
	"testing"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/BlueBrain/TuvokIO/basics"
	"github.com/pkg/errors"
)

var unitAspect = mgl64.Vec3{1, 1, 1}

func mustLayout(t *testing.T, vol [3]uint64, brick [3]uint32, overlap uint32, ctype ComponentType, ccount uint64) *Layout {
	t.Helper()
	l, err := NewLayout(vol, unitAspect, brick, overlap, ctype, ccount)
	if err != nil {
		t.Fatalf("NewLayout: %v", err)
	}
	return l
}

func TestLayout_LoDCount(t *testing.T) {
	cases := []struct {
		name    string
		vol     [3]uint64
		brick   [3]uint32
		overlap uint32
		want    uint32
	}{
		{"single brick is a single level", [3]uint64{4, 4, 4}, [3]uint32{4, 4, 4}, 0, 1},
		{"tiny volume", [3]uint64{2, 2, 2}, [3]uint32{2, 2, 2}, 0, 1},
		{"8^3 with overlap", [3]uint64{8, 8, 8}, [3]uint32{4, 4, 4}, 1, 3},
		{"flat volume", [3]uint64{5, 1, 1}, [3]uint32{4, 3, 3}, 1, 3},
		{"large anisotropic", [3]uint64{100, 60, 20}, [3]uint32{18, 18, 18}, 1, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := mustLayout(t, tc.vol, tc.brick, tc.overlap, CTUint8, 1)
			if got := l.LoDCount(); got != tc.want {
				t.Errorf("LoDCount() = %d, want %d", got, tc.want)
			}
			// the coarsest level always collapses to a single brick
			cx, cy, cz := l.BrickCount(l.LoDCount() - 1)
			if cx != 1 || cy != 1 || cz != 1 {
				t.Errorf("last LoD has %dx%dx%d bricks, want 1x1x1", cx, cy, cz)
			}
			// and no level before it does
			for lod := uint32(0); lod+1 < l.LoDCount(); lod++ {
				cx, cy, cz := l.BrickCount(lod)
				if cx == 1 && cy == 1 && cz == 1 {
					t.Errorf("LoD %d already has a single brick", lod)
				}
			}
		})
	}
}

func TestLayout_Extents(t *testing.T) {
	l := mustLayout(t, [3]uint64{5, 1, 1}, [3]uint32{4, 3, 3}, 1, CTUint16, 1)

	cx, cy, cz := l.BrickCount(0)
	if cx != 3 || cy != 1 || cz != 1 {
		t.Fatalf("BrickCount(0) = %dx%dx%d, want 3x1x1", cx, cy, cz)
	}

	cases := []struct {
		key       BrickKey
		wantInner [3]uint32
		wantExt   [3]uint32
	}{
		{BrickKey{0, 0, 0, 0}, [3]uint32{2, 1, 1}, [3]uint32{4, 3, 3}},
		{BrickKey{0, 1, 0, 0}, [3]uint32{2, 1, 1}, [3]uint32{4, 3, 3}},
		{BrickKey{0, 2, 0, 0}, [3]uint32{1, 1, 1}, [3]uint32{3, 3, 3}},
	}
	for _, tc := range cases {
		if got := l.InnerExtent(tc.key); got != tc.wantInner {
			t.Errorf("InnerExtent(%v) = %v, want %v", tc.key, got, tc.wantInner)
		}
		if got := l.BrickExtent(tc.key); got != tc.wantExt {
			t.Errorf("BrickExtent(%v) = %v, want %v", tc.key, got, tc.wantExt)
		}
	}

	if got := l.BrickBytes(BrickKey{0, 2, 0, 0}); got != 3*3*3*2 {
		t.Errorf("BrickBytes = %d, want %d", got, 3*3*3*2)
	}
}

func TestLayout_IndexRoundTrip(t *testing.T) {
	l := mustLayout(t, [3]uint64{100, 60, 20}, [3]uint32{18, 18, 18}, 1, CTFloat32, 2)

	seen := make(map[uint64]bool)
	for lod := uint32(0); lod < l.LoDCount(); lod++ {
		cx, cy, cz := l.BrickCount(lod)
		for z := uint32(0); z < cz; z++ {
			for y := uint32(0); y < cy; y++ {
				for x := uint32(0); x < cx; x++ {
					key := BrickKey{LoD: lod, X: x, Y: y, Z: z}
					idx := l.LinearIndex(key)
					if seen[idx] {
						t.Fatalf("index %d assigned twice", idx)
					}
					seen[idx] = true
					back, err := l.KeyFromIndex(idx)
					if err != nil {
						t.Fatalf("KeyFromIndex(%d): %v", idx, err)
					}
					if back != key {
						t.Fatalf("KeyFromIndex(%d) = %v, want %v", idx, back, key)
					}
				}
			}
		}
	}
	if uint64(len(seen)) != l.TotalBrickCount() {
		t.Errorf("covered %d indices, TotalBrickCount is %d", len(seen), l.TotalBrickCount())
	}
	if _, err := l.KeyFromIndex(l.TotalBrickCount()); !errors.Is(err, basics.ErrOutOfRange) {
		t.Errorf("KeyFromIndex past the end: got %v, want ErrOutOfRange", err)
	}
}

func TestLayout_ChildCoords(t *testing.T) {
	l := mustLayout(t, [3]uint64{8, 8, 8}, [3]uint32{4, 4, 4}, 1, CTUint8, 1)

	if got := len(l.ChildCoords(BrickKey{LoD: 1, X: 0, Y: 0, Z: 0})); got != 8 {
		t.Errorf("interior parent has %d children, want 8", got)
	}
	if got := l.ChildCoords(BrickKey{LoD: 0}); got != nil {
		t.Errorf("LoD 0 brick has children: %v", got)
	}

	// a degenerate axis drops the children beyond the finer level
	flat := mustLayout(t, [3]uint64{5, 1, 1}, [3]uint32{4, 3, 3}, 1, CTUint8, 1)
	kids := flat.ChildCoords(BrickKey{LoD: 1, X: 1, Y: 0, Z: 0})
	if len(kids) != 1 {
		t.Fatalf("boundary parent has %d children, want 1", len(kids))
	}
	if kids[0] != (BrickKey{LoD: 0, X: 2, Y: 0, Z: 0}) {
		t.Errorf("child = %v", kids[0])
	}
}

func TestLayout_Validation(t *testing.T) {
	cases := []struct {
		name    string
		vol     [3]uint64
		brick   [3]uint32
		overlap uint32
	}{
		{"no inner voxels", [3]uint64{8, 8, 8}, [3]uint32{4, 4, 4}, 2},
		{"zero volume axis", [3]uint64{8, 0, 8}, [3]uint32{4, 4, 4}, 0},
		{"overlap exceeds inner size", [3]uint64{8, 8, 8}, [3]uint32{7, 7, 7}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewLayout(tc.vol, unitAspect, tc.brick, tc.overlap, CTUint8, 1); !errors.Is(err, basics.ErrOutOfRange) {
				t.Errorf("got %v, want ErrOutOfRange", err)
			}
		})
	}
	if _, err := NewLayout([3]uint64{4, 4, 4}, unitAspect, [3]uint32{4, 4, 4}, 0, ComponentType(42), 1); !errors.Is(err, basics.ErrUnsupportedType) {
		t.Errorf("got %v, want ErrUnsupportedType", err)
	}
}
