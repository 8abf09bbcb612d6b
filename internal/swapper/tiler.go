package swapper

import (
	"errors"
	"fmt"

	"github.com/dudu/faceswap/internal/vision"
)

// ErrPixelBoostSize is returned when the boosted size is not an equal integer
// multiple of the model's native size.
var ErrPixelBoostSize = errors.New("pixel boost size must be an equal integer multiple of the model size")

// BoostPlan describes how an aligned crop at BoostedSize is divided into
// TilesPerAxis² tiles of the model's native TileSize.
type BoostPlan struct {
	TilesPerAxis int
	TileSize     vision.Size
	BoostedSize  vision.Size
}

// NewBoostPlan validates boosted against the native model size
func NewBoostPlan(boosted, native vision.Size) (BoostPlan, error) {
	if native.Width <= 0 || native.Height <= 0 || boosted.Width <= 0 || boosted.Height <= 0 {
		return BoostPlan{}, fmt.Errorf("%w: %s for model size %s", ErrPixelBoostSize, boosted, native)
	}
	if boosted.Width%native.Width != 0 || boosted.Height%native.Height != 0 {
		return BoostPlan{}, fmt.Errorf("%w: %s for model size %s", ErrPixelBoostSize, boosted, native)
	}
	n := boosted.Width / native.Width
	if boosted.Height/native.Height != n {
		return BoostPlan{}, fmt.Errorf("%w: %s for model size %s", ErrPixelBoostSize, boosted, native)
	}

	return BoostPlan{
		TilesPerAxis: n,
		TileSize:     native,
		BoostedSize:  boosted,
	}, nil
}

// TileCount returns the total number of tiles
func (p BoostPlan) TileCount() int {
	return p.TilesPerAxis * p.TilesPerAxis
}

// Split slices crop into TileCount tiles in row-major order. Tile (i, j)
// samples every n-th pixel starting at row i, column j, so each tile is a
// complete downscaled view of the face at the native model resolution.
func Split(crop vision.Frame, plan BoostPlan) ([]vision.Frame, error) {
	if crop.Size() != plan.BoostedSize {
		return nil, fmt.Errorf("crop %s does not match boosted size %s", crop.Size(), plan.BoostedSize)
	}

	n := plan.TilesPerAxis
	tw, th := plan.TileSize.Width, plan.TileSize.Height
	tiles := make([]vision.Frame, 0, plan.TileCount())

	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			tile := vision.NewFrame(tw, th)
			for y := 0; y < th; y++ {
				for x := 0; x < tw; x++ {
					src := crop.Offset(x*n+j, y*n+i)
					dst := tile.Offset(x, y)
					copy(tile.Pix[dst:dst+3], crop.Pix[src:src+3])
				}
			}
			tiles = append(tiles, tile)
		}
	}
	return tiles, nil
}

// Merge is the exact inverse of Split
func Merge(tiles []vision.Frame, plan BoostPlan) (vision.Frame, error) {
	if len(tiles) != plan.TileCount() {
		return vision.Frame{}, fmt.Errorf("got %d tiles, want %d", len(tiles), plan.TileCount())
	}

	n := plan.TilesPerAxis
	tw, th := plan.TileSize.Width, plan.TileSize.Height
	crop := vision.NewFrame(plan.BoostedSize.Width, plan.BoostedSize.Height)

	for idx, tile := range tiles {
		if tile.Size() != plan.TileSize {
			return vision.Frame{}, fmt.Errorf("tile %d is %s, want %s", idx, tile.Size(), plan.TileSize)
		}
		i, j := idx/n, idx%n
		for y := 0; y < th; y++ {
			for x := 0; x < tw; x++ {
				src := tile.Offset(x, y)
				dst := crop.Offset(x*n+j, y*n+i)
				copy(crop.Pix[dst:dst+3], tile.Pix[src:src+3])
			}
		}
	}
	return crop, nil
}
