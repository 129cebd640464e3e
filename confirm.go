package heightmap

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PromptConfirm returns a ConfirmFunc that writes the grid's dimensions to w
// and reads a line from r. Only "y" or "Y" confirms.
func PromptConfirm(r io.Reader, w io.Writer) ConfirmFunc {
	br := bufio.NewReader(r)
	return func(grid *Grid) (bool, error) {
		if _, err := fmt.Fprintf(w, "This will produce an image of %d*%d pixels with a total of %d pixels, are you sure? (y/N) ",
			grid.Width, grid.Height, grid.Len()); err != nil {
			return false, err
		}
		line, err := br.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		return strings.EqualFold(strings.TrimRight(line, "\r\n"), "y"), nil
	}
}
