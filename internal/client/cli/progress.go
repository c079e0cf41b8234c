package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/dmitrijs2005/mediasync/internal/client/models"
	"github.com/dmitrijs2005/mediasync/internal/client/services"
)

const defaultWidth = 80

// terminalWidth returns the width of w when it is a terminal.
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return defaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return defaultWidth
	}
	return width
}

// progressBar renders fraction as "[#####     ]  50%" fitting in width.
func progressBar(fraction float64, width int) string {
	fraction = min(max(fraction, 0), 1)
	inner := max(width-8, 10)
	filled := int(fraction * float64(inner))
	return fmt.Sprintf("[%s%s] %3d%%",
		strings.Repeat("#", filled), strings.Repeat(" ", inner-filled), int(fraction*100))
}

// transfer is the part of *services.UploadTask the progress view needs.
type transfer interface {
	Progress() <-chan float64
	Cancel()
	Wait(ctx context.Context) (*models.Media, error)
}

var _ transfer = (*services.UploadTask)(nil)

// followUpload redraws a progress bar until the task ends. When ctx is done
// first the transfer is canceled.
func followUpload(ctx context.Context, w io.Writer, task transfer) (*models.Media, error) {
	width := terminalWidth(w)
	progress := task.Progress()
	for {
		select {
		case <-ctx.Done():
			task.Cancel()
			fmt.Fprintln(w)
			return nil, ctx.Err()
		case f, ok := <-progress:
			if !ok {
				fmt.Fprintln(w)
				return task.Wait(ctx)
			}
			fmt.Fprintf(w, "\r%s", progressBar(f, width))
		}
	}
}
