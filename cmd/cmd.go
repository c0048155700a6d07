package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/moviesearch/internal/models"
)

func getProgressBar(w io.Writer, total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("movies"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// embeddingProgress draws the bar on the first embedded movie, so runs
// that embed nothing print nothing.
type embeddingProgress struct {
	w   io.Writer
	bar *progressbar.ProgressBar
}

func (e *embeddingProgress) update(done, total int) {
	if e.bar == nil {
		e.bar = getProgressBar(e.w, total, "Embedding movies...")
	}
	e.bar.Set(done)
}

func (e *embeddingProgress) finish() {
	if e.bar != nil {
		e.bar.Finish()
	}
}

func getSpinner(description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(-1,
		progressbar.OptionSetDescription(color.CyanString(description)),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWidth(20),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetRenderBlankState(true),
	)
}

func resultsTitle(mode models.SearchMode) string {
	switch mode {
	case models.ModeHybrid:
		return "Hybrid search results:"
	default:
		return "Vector search results:"
	}
}

// printResults writes the heading for mode and one movie name per line.
// verbose adds the score and stored text.
func printResults(w io.Writer, mode models.SearchMode, results []models.QueryResult, verbose bool) {
	heading := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(w, "\n%s\n", heading(resultsTitle(mode)))

	if len(results) == 0 {
		fmt.Fprintln(w, color.YellowString("  (no matches)"))
		return
	}

	for _, r := range results {
		if verbose {
			fmt.Fprintf(w, "%s %s\n    %s\n", color.GreenString("%.4f", r.Score), r.MovieName(), r.Segment.Text)
			continue
		}
		fmt.Fprintln(w, r.MovieName())
	}
}
