package models

import (
	"fmt"
	"strconv"
)

// Movie is one row of the movie table.
type Movie struct {
	ID          string
	Name        string
	Year        int
	Genre       string
	Description string
	Director    string
}

// String renders every field in column order. The output is what gets embedded
// and indexed, so it must stay deterministic.
func (m Movie) String() string {
	return fmt.Sprintf("Movie[movie_id=%s, movie_name=%s, year=%d, genre=%s, description=%s, director=%s]",
		m.ID, m.Name, m.Year, m.Genre, m.Description, m.Director)
}

// Metadata returns the key/value pairs stored next to the text in the index.
func (m Movie) Metadata() map[string]interface{} {
	return map[string]interface{}{
		"movie_id":   m.ID,
		"movie_name": m.Name,
		"year":       strconv.Itoa(m.Year),
		"genre":      m.Genre,
		"director":   m.Director,
	}
}

type TextSegment struct {
	Text     string
	Metadata map[string]interface{}
}

// MetadataString returns the metadata value for key as a string, or "" when absent.
func (s TextSegment) MetadataString(key string) string {
	v, ok := s.Metadata[key]
	if !ok || v == nil {
		return ""
	}
	if str, ok := v.(string); ok {
		return str
	}
	return fmt.Sprint(v)
}

type Embedding []float32

type QueryResult struct {
	ID      string
	Score   float64
	Segment TextSegment
}

func (r QueryResult) MovieName() string {
	return r.Segment.MetadataString("movie_name")
}
