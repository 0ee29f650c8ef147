package domain

import "errors"

type Color string

var ErrColorInUse = errors.New("color in use")

// Palette is the fixed ordered set of avatar colors. Assignment follows
// palette order: a joining member takes the first color not held by anyone
// currently present.
var Palette = []Color{
	"#ff4d4f",
	"#ff7a45",
	"#ffc53d",
	"#73d13d",
	"#36cfc9",
	"#40a9ff",
	"#597ef7",
	"#9254de",
	"#f759ab",
	"#8c8c8c",
}

func (c Color) Valid() bool {
	for _, p := range Palette {
		if p == c {
			return true
		}
	}
	return false
}

// FirstFreeColor returns the first palette color not in used, or empty when
// the palette is exhausted.
func FirstFreeColor(used map[Color]bool) Color {
	for _, c := range Palette {
		if !used[c] {
			return c
		}
	}
	return ""
}
