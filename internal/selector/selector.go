package selector

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/dudu/faceswap/internal/detector"
)

// Mode picks which target faces are swapped
type Mode string

const (
	// ModeOne swaps the leading face after ordering
	ModeOne Mode = "one"
	// ModeMany swaps every face
	ModeMany Mode = "many"
	// ModeReference swaps faces close to the pinned reference faces
	ModeReference Mode = "reference"
)

// Modes lists every accepted selector mode
var Modes = []Mode{ModeOne, ModeMany, ModeReference}

// ParseMode validates a selector mode name
func ParseMode(name string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(name)))
	if !slices.Contains(Modes, m) {
		return "", fmt.Errorf("unknown face selector mode %q", name)
	}
	return m, nil
}

// Order sorts detected faces
type Order string

const (
	OrderLeftRight  Order = "left-right"
	OrderRightLeft  Order = "right-left"
	OrderTopBottom  Order = "top-bottom"
	OrderBottomTop  Order = "bottom-top"
	OrderSmallLarge Order = "small-large"
	OrderLargeSmall Order = "large-small"
	OrderBestWorst  Order = "best-worst"
	OrderWorstBest  Order = "worst-best"
)

// Orders lists every accepted face order
var Orders = []Order{
	OrderLeftRight, OrderRightLeft,
	OrderTopBottom, OrderBottomTop,
	OrderSmallLarge, OrderLargeSmall,
	OrderBestWorst, OrderWorstBest,
}

// ParseOrder validates a face order name; empty keeps detection order
func ParseOrder(name string) (Order, error) {
	if strings.TrimSpace(name) == "" {
		return "", nil
	}
	o := Order(strings.ToLower(strings.TrimSpace(name)))
	if !slices.Contains(Orders, o) {
		return "", fmt.Errorf("unknown face selector order %q", name)
	}
	return o, nil
}

// Selector orders, filters and matches faces
type Selector struct {
	order    Order
	minScore float32
}

// New returns a selector. Faces scoring below minScore are dropped.
func New(order Order, minScore float32) *Selector {
	return &Selector{order: order, minScore: minScore}
}

// SortAndFilter returns the faces above the score floor in the configured
// order. The input slice is not modified.
func (s *Selector) SortAndFilter(faces []detector.Face) []detector.Face {
	out := make([]detector.Face, 0, len(faces))
	for _, f := range faces {
		if f.Score >= s.minScore {
			out = append(out, f)
		}
	}

	var key func(f detector.Face) float32
	desc := false
	switch s.order {
	case OrderLeftRight:
		key = func(f detector.Face) float32 { return f.BoundingBox.X1 }
	case OrderRightLeft:
		key, desc = func(f detector.Face) float32 { return f.BoundingBox.X1 }, true
	case OrderTopBottom:
		key = func(f detector.Face) float32 { return f.BoundingBox.Y1 }
	case OrderBottomTop:
		key, desc = func(f detector.Face) float32 { return f.BoundingBox.Y1 }, true
	case OrderSmallLarge:
		key = func(f detector.Face) float32 { return f.BoundingBox.Area() }
	case OrderLargeSmall:
		key, desc = func(f detector.Face) float32 { return f.BoundingBox.Area() }, true
	case OrderBestWorst:
		key, desc = func(f detector.Face) float32 { return f.Score }, true
	case OrderWorstBest:
		key = func(f detector.Face) float32 { return f.Score }
	default:
		return out
	}

	slices.SortStableFunc(out, func(a, b detector.Face) int {
		if desc {
			return cmp.Compare(key(b), key(a))
		}
		return cmp.Compare(key(a), key(b))
	})
	return out
}

// FindSimilar returns, in input order, each face whose distance to any
// reference is below distance. Raising distance never shrinks the result.
func (s *Selector) FindSimilar(faces, references []detector.Face, distance float32) []detector.Face {
	var similar []detector.Face
	for _, f := range faces {
		for _, ref := range references {
			if f.Distance(ref) < distance {
				similar = append(similar, f)
				break
			}
		}
	}
	return similar
}
