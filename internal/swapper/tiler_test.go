package swapper

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/dudu/faceswap/internal/vision"
)

func randomFrame(w, h int, seed int64) vision.Frame {
	r := rand.New(rand.NewSource(seed))
	f := vision.NewFrame(w, h)
	r.Read(f.Pix)
	return f
}

func TestNewBoostPlan(t *testing.T) {
	native := vision.Size{Width: 128, Height: 128}
	tests := []struct {
		name    string
		boosted vision.Size
		want    int
		wantErr bool
	}{
		{name: "native", boosted: native, want: 1},
		{name: "double", boosted: vision.Size{Width: 256, Height: 256}, want: 2},
		{name: "quadruple", boosted: vision.Size{Width: 512, Height: 512}, want: 4},
		{name: "not a multiple", boosted: vision.Size{Width: 500, Height: 500}, wantErr: true},
		{name: "unequal axes", boosted: vision.Size{Width: 512, Height: 256}, wantErr: true},
		{name: "smaller than native", boosted: vision.Size{Width: 64, Height: 64}, wantErr: true},
		{name: "zero", boosted: vision.Size{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan, err := NewBoostPlan(tt.boosted, native)
			if tt.wantErr {
				if !errors.Is(err, ErrPixelBoostSize) {
					t.Errorf("expected ErrPixelBoostSize, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewBoostPlan failed: %v", err)
			}
			if plan.TilesPerAxis != tt.want || plan.TileSize != native || plan.BoostedSize != tt.boosted {
				t.Errorf("plan = %+v", plan)
			}
			if plan.TileCount() != tt.want*tt.want {
				t.Errorf("TileCount() = %d", plan.TileCount())
			}
		})
	}
}

func TestSplitMergeRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		tile    int
		perAxis int
	}{
		{name: "single tile", tile: 16, perAxis: 1},
		{name: "2x2", tile: 16, perAxis: 2},
		{name: "4x4", tile: 8, perAxis: 4},
		{name: "3x3 odd", tile: 7, perAxis: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			size := tt.tile * tt.perAxis
			plan, err := NewBoostPlan(vision.Size{Width: size, Height: size}, vision.Size{Width: tt.tile, Height: tt.tile})
			if err != nil {
				t.Fatal(err)
			}
			crop := randomFrame(size, size, int64(size))

			tiles, err := Split(crop, plan)
			if err != nil {
				t.Fatalf("Split failed: %v", err)
			}
			if len(tiles) != plan.TileCount() {
				t.Fatalf("got %d tiles, want %d", len(tiles), plan.TileCount())
			}
			for _, tile := range tiles {
				if tile.Size() != plan.TileSize {
					t.Fatalf("tile size %s, want %s", tile.Size(), plan.TileSize)
				}
			}

			merged, err := Merge(tiles, plan)
			if err != nil {
				t.Fatalf("Merge failed: %v", err)
			}
			if !merged.Equal(crop) {
				t.Error("Merge(Split(crop)) differs from crop")
			}
		})
	}
}

func TestSplitLayout(t *testing.T) {
	plan, err := NewBoostPlan(vision.Size{Width: 6, Height: 6}, vision.Size{Width: 3, Height: 3})
	if err != nil {
		t.Fatal(err)
	}
	crop := randomFrame(6, 6, 7)
	tiles, err := Split(crop, plan)
	if err != nil {
		t.Fatal(err)
	}

	// Every crop pixel lands in exactly one tile
	seen := make(map[[2]int]int)
	for idx, tile := range tiles {
		i, j := idx/2, idx%2
		for y := 0; y < 3; y++ {
			for x := 0; x < 3; x++ {
				cx, cy := x*2+j, y*2+i
				seen[[2]int{cx, cy}]++
				a, b := tile.Offset(x, y), crop.Offset(cx, cy)
				if tile.Pix[a] != crop.Pix[b] || tile.Pix[a+1] != crop.Pix[b+1] || tile.Pix[a+2] != crop.Pix[b+2] {
					t.Fatalf("tile %d pixel (%d,%d) does not match crop (%d,%d)", idx, x, y, cx, cy)
				}
			}
		}
	}
	if len(seen) != 36 {
		t.Errorf("tiles cover %d pixels, want 36", len(seen))
	}
	for p, n := range seen {
		if n != 1 {
			t.Errorf("pixel %v covered %d times", p, n)
		}
	}
}

func TestSingleTileEqualsCrop(t *testing.T) {
	size := vision.Size{Width: 32, Height: 32}
	plan, err := NewBoostPlan(size, size)
	if err != nil {
		t.Fatal(err)
	}
	crop := randomFrame(32, 32, 3)
	tiles, err := Split(crop, plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(tiles) != 1 || !tiles[0].Equal(crop) {
		t.Error("single tile should equal the crop")
	}
}

func TestSplitMergeErrors(t *testing.T) {
	plan, _ := NewBoostPlan(vision.Size{Width: 8, Height: 8}, vision.Size{Width: 4, Height: 4})

	if _, err := Split(vision.NewFrame(6, 6), plan); err == nil {
		t.Error("expected error for crop size mismatch")
	}
	if _, err := Merge([]vision.Frame{vision.NewFrame(4, 4)}, plan); err == nil {
		t.Error("expected error for missing tiles")
	}
	tiles := []vision.Frame{vision.NewFrame(4, 4), vision.NewFrame(4, 4), vision.NewFrame(4, 4), vision.NewFrame(5, 5)}
	if _, err := Merge(tiles, plan); err == nil {
		t.Error("expected error for wrong tile size")
	}
}
