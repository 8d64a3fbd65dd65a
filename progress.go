package main

import (
	"io"

	"github.com/schollz/progressbar/v3"
)

const (
	interactiveBarWidth = 50
	oneShotBarWidth     = 100
)

// newProgressBar draws a 0-100 percentage bar as [-----     ] on w.
func newProgressBar(w io.Writer, width int) *progressbar.ProgressBar {
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(width),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "-",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
