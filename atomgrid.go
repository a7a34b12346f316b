// Package atomgrid implements the scene model and shared arithmetic for a
// frame-scoped, two-level sparse voxel acceleration structure over scenes of
// spherical atoms. The structure itself is built by package agbuild and
// queried by package agtrace; this package holds what both sides agree on:
// atoms and their element styles, the grid configuration with its voxel
// addressing rules, and the packed word formats shared between the build
// passes and the traversal.
//
// All geometry is float32 and distances are in nanometers.
package atomgrid

import (
	"errors"

	"github.com/soypat/geometry/ms3"
)

// Atom is one scene particle. Atoms are immutable during a frame; the radius
// used for voxel membership is looked up from a [StyleTable] by element.
type Atom struct {
	// Pos is the atom center in world space (nm).
	Pos ms3.Vec
	// Element is the atomic number. Unknown numbers take the fallback style.
	Element uint8
}

// ElementStyle holds the per-element constants consumed by the acceleration
// structure (radius) and by visualization helpers (color).
type ElementStyle struct {
	Radius float32 // van der Waals radius, nm.
	Color  [3]float32
}

// StyleTable maps atomic numbers to element styles. Index i styles element i.
// Zero-valued entries (radius 0) fall back to [FallbackStyle].
type StyleTable []ElementStyle

// FallbackStyle is used for elements with no entry in a StyleTable.
var FallbackStyle = ElementStyle{Radius: 0.15, Color: [3]float32{0.8, 0.2, 0.8}}

// Style returns the style for element elem, falling back to [FallbackStyle].
func (t StyleTable) Style(elem uint8) ElementStyle {
	if int(elem) < len(t) && t[elem].Radius > 0 {
		return t[elem]
	}
	return FallbackStyle
}

// Radius returns the bounding-sphere radius for element elem in nanometers.
func (t StyleTable) Radius(elem uint8) float32 {
	return t.Style(elem).Radius
}

// DefaultStyles returns a style table covering the elements common in
// molecular-mechanics scenes, with van der Waals radii and CPK-like colors.
func DefaultStyles() StyleTable {
	t := make(StyleTable, 33)
	t[1] = ElementStyle{Radius: 0.120, Color: [3]float32{0.95, 0.95, 0.95}}  // H
	t[6] = ElementStyle{Radius: 0.170, Color: [3]float32{0.30, 0.30, 0.30}}  // C
	t[7] = ElementStyle{Radius: 0.155, Color: [3]float32{0.20, 0.30, 0.90}}  // N
	t[8] = ElementStyle{Radius: 0.152, Color: [3]float32{0.90, 0.15, 0.15}}  // O
	t[9] = ElementStyle{Radius: 0.147, Color: [3]float32{0.30, 0.80, 0.30}}  // F
	t[14] = ElementStyle{Radius: 0.210, Color: [3]float32{0.75, 0.70, 0.50}} // Si
	t[15] = ElementStyle{Radius: 0.180, Color: [3]float32{1.00, 0.55, 0.10}} // P
	t[16] = ElementStyle{Radius: 0.180, Color: [3]float32{0.95, 0.90, 0.25}} // S
	t[17] = ElementStyle{Radius: 0.175, Color: [3]float32{0.15, 0.90, 0.15}} // Cl
	t[32] = ElementStyle{Radius: 0.211, Color: [3]float32{0.45, 0.55, 0.60}} // Ge
	return t
}

// ErrBadConfig reports an invalid grid configuration.
var ErrBadConfig = errors.New("invalid grid configuration")
