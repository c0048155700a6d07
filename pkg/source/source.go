package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/moviesearch/internal/models"
)

// Columns is the fixed column order of the movie table.
var Columns = []string{"movie_id", "movie_name", "year", "genre", "description", "director"}

type SourceConfig struct {
	Location  string // local path or http(s) URL
	Timeout   time.Duration
	Delimiter rune
	HasHeader bool
	Logger    *zap.Logger
}

type Source struct {
	config SourceConfig
	client *http.Client
}

func NewWithConfig(config SourceConfig) (*Source, error) {
	if config.Location == "" {
		return nil, errors.New("source location is required")
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Delimiter == 0 {
		config.Delimiter = ','
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	return &Source{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

func isRemote(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// Open starts reading the table. The caller must Close the returned Reader.
func (s *Source) Open(ctx context.Context) (*Reader, error) {
	var body io.ReadCloser

	if isRemote(s.config.Location) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.Location, http.NoBody)
		if err != nil {
			return nil, fmt.Errorf("new request: %w", err)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", s.config.Location, err)
		}
		if resp.StatusCode != http.StatusOK {
			_ = resp.Body.Close()
			return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, s.config.Location)
		}
		body = resp.Body
	} else {
		f, err := os.Open(s.config.Location)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", s.config.Location, err)
		}
		body = f
	}

	return newReader(body, s.config), nil
}

// ReadAll drains the whole table and reports how many rows were skipped.
func (s *Source) ReadAll(ctx context.Context) ([]models.Movie, int, error) {
	r, err := s.Open(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	var movies []models.Movie
	for {
		m, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, r.Skipped(), err
		}
		movies = append(movies, m)
	}
	return movies, r.Skipped(), nil
}

// Reader yields valid movies one at a time. Malformed rows are skipped and
// counted; only I/O failures are returned as errors.
type Reader struct {
	body      io.ReadCloser
	csv       *csv.Reader
	logger    *zap.Logger
	hasHeader bool
	started   bool
	skipped   int
}

func newReader(body io.ReadCloser, config SourceConfig) *Reader {
	cr := csv.NewReader(body)
	cr.Comma = config.Delimiter
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	return &Reader{
		body:      body,
		csv:       cr,
		logger:    config.Logger,
		hasHeader: config.HasHeader,
	}
}

// Next returns the next valid movie, or io.EOF once the input is exhausted.
func (r *Reader) Next() (models.Movie, error) {
	for {
		record, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return models.Movie{}, io.EOF
		}

		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			r.skip(parseErr.Line, parseErr.Err.Error())
			r.started = true
			continue
		}
		if err != nil {
			return models.Movie{}, fmt.Errorf("read csv: %w", err)
		}

		line, _ := r.csv.FieldPos(0)

		if !r.started {
			r.started = true
			if r.hasHeader || isHeader(record) {
				continue
			}
		}

		movie, reason := parseRecord(record)
		if reason != "" {
			r.skip(line, reason)
			continue
		}
		return movie, nil
	}
}

// Skipped is the number of malformed rows dropped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

func (r *Reader) Close() error {
	return r.body.Close()
}

func (r *Reader) skip(line int, reason string) {
	r.skipped++
	r.logger.Warn("Skipping malformed row", zap.Int("line", line), zap.String("reason", reason))
}

func isHeader(record []string) bool {
	return len(record) == len(Columns) && strings.EqualFold(strings.TrimSpace(record[2]), "year")
}

// parseRecord returns the movie, or a non-empty reason when the row is malformed.
func parseRecord(record []string) (models.Movie, string) {
	if len(record) != len(Columns) {
		return models.Movie{}, fmt.Sprintf("expected %d columns, got %d", len(Columns), len(record))
	}

	year, err := strconv.Atoi(strings.TrimSpace(record[2]))
	if err != nil {
		return models.Movie{}, fmt.Sprintf("invalid year %q", record[2])
	}

	return models.Movie{
		ID:          record[0],
		Name:        record[1],
		Year:        year,
		Genre:       record[3],
		Description: record[4],
		Director:    record[5],
	}, ""
}
