package models

import "fmt"

// Family groups models sharing input/output conventions
type Family int

const (
	FamilyBlendSwap Family = iota
	FamilyGhost
	FamilyInswapper
	FamilySimSwap
	FamilyUniface
)

func (f Family) String() string {
	switch f {
	case FamilyBlendSwap:
		return "blendswap"
	case FamilyGhost:
		return "ghost"
	case FamilyInswapper:
		return "inswapper"
	case FamilySimSwap:
		return "simswap"
	case FamilyUniface:
		return "uniface"
	}
	return fmt.Sprintf("family(%d)", int(f))
}

// PixelSource reports whether the model takes an aligned source image
// rather than an identity embedding.
func (f Family) PixelSource() bool {
	return f == FamilyBlendSwap || f == FamilyUniface
}

// PixelScale returns the factor and offset mapping 8-bit values into the
// model's pixel range: v/scale - offset. Ghost models work in [-1, 1].
func (f Family) PixelScale() (scale, offset float32) {
	if f == FamilyGhost {
		return 127.5, 1
	}
	return 255, 0
}
