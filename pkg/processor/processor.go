package processor

import (
	"strings"
	"unicode/utf8"

	"github.com/xhad/moviesearch/internal/models"
)

type ProcessorConfig struct {
	// CollapseWhitespace folds runs of whitespace in the rendered text into
	// single spaces. Descriptions scraped from the web often carry newlines.
	CollapseWhitespace bool
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	return Processor{
		config: config,
	}
}

// Process renders one text segment per movie, in input order.
func (p *Processor) Process(movies []models.Movie) []models.TextSegment {
	segments := make([]models.TextSegment, 0, len(movies))

	for _, movie := range movies {
		segments = append(segments, models.TextSegment{
			Text:     p.cleanText(movie.String()),
			Metadata: movie.Metadata(),
		})
	}

	return segments
}

func (p *Processor) cleanText(text string) string {
	text = sanitizeUTF8(text)

	if p.config.CollapseWhitespace {
		text = strings.Join(strings.Fields(text), " ")
	}

	return strings.TrimSpace(text)
}

// sanitizeUTF8 drops invalid bytes; the index rejects documents carrying them.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
