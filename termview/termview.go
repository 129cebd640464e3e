// Package termview draws images in a terminal using 24-bit color.
package termview

import (
	"bufio"
	"image"
	"image/color"
	"io"

	"github.com/disintegration/imaging"
	fcolor "github.com/fatih/color"
	"github.com/nathan-fiscaletti/consolesize-go"

	"github.com/twpayne/go-heightmap"
)

const defaultColumns = 80

// A View draws images as rows of colored cells. Each pixel is two cells wide
// so that pixels are roughly square.
type View struct {
	w       io.Writer
	columns int
}

// An Option sets an option on a View.
type Option func(*View)

// WithColumns sets the width of the view in terminal columns, overriding the
// size of the console.
func WithColumns(columns int) Option {
	return func(v *View) {
		v.columns = columns
	}
}

// New returns a new View that writes to w.
func New(w io.Writer, options ...Option) *View {
	v := &View{
		w: w,
	}
	for _, option := range options {
		option(v)
	}
	if v.columns <= 0 {
		v.columns, _ = consolesize.GetConsoleSize()
	}
	if v.columns <= 0 {
		v.columns = defaultColumns
	}
	return v
}

// Display draws img, shrinking it to fit the view if needed.
func (v *View) Display(img image.Image) error {
	if maxWidth := max(v.columns/2, 1); img.Bounds().Dx() > maxWidth {
		img = imaging.Resize(img, maxWidth, 0, imaging.Box)
	}

	bounds := img.Bounds()
	bw := bufio.NewWriter(v.w)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
			if _, err := bw.WriteString(fcolor.BgRGB(int(c.R), int(c.G), int(c.B)).Sprint("  ")); err != nil {
				return err
			}
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// DisplayFunc returns v's Display method as a heightmap.DisplayFunc.
func (v *View) DisplayFunc() heightmap.DisplayFunc {
	return v.Display
}
