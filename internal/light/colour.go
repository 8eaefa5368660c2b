package light

import (
	"math"

	"homeintegrations/internal/twinkly"
	"homeintegrations/pkg/entity"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// RGB is an 8-bit red/green/blue triple
type RGB [3]uint8

var (
	rgbWhite = RGB{255, 255, 255}
	rgbBlack = RGB{0, 0, 0}
)

// colourState is what the light remembers between turn_on calls
type colourState struct {
	HS    *[2]float64
	White int
	RGB   *RGB
}

// HSToRGB converts hue (0-360) and saturation (0-100) at full value to RGB.
// Channels are truncated, not rounded, so only saturation 0 yields pure white.
func HSToRGB(hs [2]float64) RGB {
	c := colorful.Hsv(normHue(hs[0]), clampFloat(hs[1], 0, 100)/100, 1)
	return RGB{channel255(c.R), channel255(c.G), channel255(c.B)}
}

// channel255 truncates v*255; the epsilon absorbs the error of m+C summing
// to just under 1
func channel255(v float64) uint8 {
	return uint8(clampFloat(math.Floor(v*255+1e-9), 0, 255))
}

// HSToXY converts hue/saturation to CIE xy chromaticity, rounded to 3 decimals
func HSToXY(hs [2]float64) [2]float64 {
	x, y, _ := colorful.Hsv(normHue(hs[0]), clampFloat(hs[1], 0, 100)/100, 1).Xyy()
	return [2]float64{round3(x), round3(y)}
}

// Reconcile folds a turn_on request into the remembered colour state and
// returns the (w,r,g,b) command to send, or nil when no colour change is due.
//
// Pure white from the HS picker is shown with the white LEDs only: the RGB
// channels go dark and white takes over at its previous level, or full when
// it was off. Leaving that state for a real colour switches white off again
// unless a white value was given explicitly. A white value applies to the
// stored hue; a hue sent along with it is ignored.
func Reconcile(prev colourState, opts entity.TurnOnOptions) (colourState, *twinkly.Colour) {
	if opts.White == nil && opts.HSColor == nil {
		return prev, nil
	}

	next := prev
	if opts.White == nil {
		hs := *opts.HSColor
		next.HS = &hs
	}
	if next.HS == nil {
		return prev, nil
	}

	white := prev.White
	if opts.White != nil {
		white = clampInt(*opts.White, 0, 255)
	}

	rgb := HSToRGB(*next.HS)
	if rgb == rgbWhite {
		rgb = rgbBlack
		if opts.White == nil {
			if prev.White == 0 {
				white = 255
			} else {
				white = prev.White
			}
		}
	} else if opts.White == nil && prev.RGB != nil && *prev.RGB == rgbBlack && rgb != rgbBlack {
		// white LEDs must be off for the colour to show
		white = 0
	}

	next.White = white
	next.RGB = &rgb

	return next, &twinkly.Colour{
		W: uint8(white),
		R: rgb[0],
		G: rgb[1],
		B: rgb[2],
	}
}

func normHue(h float64) float64 {
	h = math.Mod(h, 360)
	if h < 0 {
		h += 360
	}
	return h
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
