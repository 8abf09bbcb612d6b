package detector

import (
	"cmp"
	"slices"
)

// nms keeps the highest scoring face of every overlapping cluster. The result
// is ordered by descending score; faces is not modified.
func nms(faces []Face, iouThreshold float32) []Face {
	ranked := slices.Clone(faces)
	slices.SortStableFunc(ranked, func(a, b Face) int {
		return cmp.Compare(b.Score, a.Score)
	})

	kept := make([]Face, 0, len(ranked))
	for _, candidate := range ranked {
		suppressed := slices.ContainsFunc(kept, func(k Face) bool {
			return iou(k.BoundingBox, candidate.BoundingBox) > iouThreshold
		})
		if !suppressed {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// iou is the intersection over union of two boxes, 0 when they are disjoint
func iou(a, b BoundingBox) float32 {
	overlap := BoundingBox{
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2),
		Y2: min(a.Y2, b.Y2),
	}
	if overlap.Width() <= 0 || overlap.Height() <= 0 {
		return 0
	}

	inter := overlap.Area()
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}
