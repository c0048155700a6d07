package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fiveRows = `1,Groundhog Day,1993,Comedy,A weatherman relives the same day over and over,Harold Ramis
2,Alien,1979,Horror,A crew is hunted by a creature aboard their ship,Ridley Scott
3,Primer,unknown,Sci-Fi,Engineers build a box that moves them through time,Shane Carruth
4,Edge of Tomorrow,2014,Action,A soldier dies and wakes up on the same day again,Doug Liman
5,Arrival,2016,Drama,A linguist learns to talk with visitors,Denis Villeneuve
`

func writeTable(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "movies.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadAllSkipsBadYear(t *testing.T) {
	s, err := NewWithConfig(SourceConfig{Location: writeTable(t, fiveRows)})
	require.NoError(t, err)

	movies, skipped, err := s.ReadAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, skipped)
	require.Len(t, movies, 4)

	var ids []string
	for _, m := range movies {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2", "4", "5"}, ids)
	assert.Equal(t, 1993, movies[0].Year)
	assert.Equal(t, "Harold Ramis", movies[0].Director)
}

func TestReaderSkipsWrongColumnCount(t *testing.T) {
	table := "1,Too Short,1999\n" +
		"2,Too,Long,2000,Drama,Plot,Someone,extra\n" +
		"3,Just Right,2001,Drama,Plot,Someone\n"

	s, err := NewWithConfig(SourceConfig{Location: writeTable(t, table)})
	require.NoError(t, err)

	movies, skipped, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, skipped)
	require.Len(t, movies, 1)
	assert.Equal(t, "Just Right", movies[0].Name)
}

func TestReaderSkipsParseErrors(t *testing.T) {
	table := "1,\"Broken \"quote\",1999,Drama,Plot,Someone\n" +
		"2,\"Quoted, Title\",2000,Drama,\"Plot, with comma\",Someone\n"

	s, err := NewWithConfig(SourceConfig{Location: writeTable(t, table)})
	require.NoError(t, err)

	movies, skipped, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	require.Len(t, movies, 1)
	assert.Equal(t, "Quoted, Title", movies[0].Name)
	assert.Equal(t, "Plot, with comma", movies[0].Description)
}

func TestReaderHeader(t *testing.T) {
	header := "movie_id,movie_name,year,genre,description,director\n"

	t.Run("detected", func(t *testing.T) {
		s, err := NewWithConfig(SourceConfig{Location: writeTable(t, header+fiveRows)})
		require.NoError(t, err)

		movies, skipped, err := s.ReadAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, skipped)
		assert.Len(t, movies, 4)
	})

	t.Run("configured", func(t *testing.T) {
		s, err := NewWithConfig(SourceConfig{Location: writeTable(t, "id,name,released,g,d,dir\n"+fiveRows), HasHeader: true})
		require.NoError(t, err)

		movies, skipped, err := s.ReadAll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, skipped)
		assert.Len(t, movies, 4)
	})
}

func TestReaderCustomDelimiter(t *testing.T) {
	s, err := NewWithConfig(SourceConfig{
		Location:  writeTable(t, "1;Solaris;1972;Drama;A psychologist visits a space station;Andrei Tarkovsky\n"),
		Delimiter: ';',
	})
	require.NoError(t, err)

	movies, _, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, movies, 1)
	assert.Equal(t, 1972, movies[0].Year)
}

func TestReadFromURL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/movies.csv" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write([]byte(fiveRows))
	}))
	defer server.Close()

	s, err := NewWithConfig(SourceConfig{Location: server.URL + "/movies.csv"})
	require.NoError(t, err)

	movies, skipped, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Len(t, movies, 4)

	missing, err := NewWithConfig(SourceConfig{Location: server.URL + "/missing.csv"})
	require.NoError(t, err)
	_, _, err = missing.ReadAll(context.Background())
	assert.ErrorContains(t, err, "404")
}

func TestOpenMissingFile(t *testing.T) {
	s, err := NewWithConfig(SourceConfig{Location: filepath.Join(t.TempDir(), "nope.csv")})
	require.NoError(t, err)

	_, err = s.Open(context.Background())
	assert.Error(t, err)
}

func TestNewWithConfigRequiresLocation(t *testing.T) {
	_, err := NewWithConfig(SourceConfig{})
	assert.Error(t, err)
}

func TestIsRemote(t *testing.T) {
	assert.True(t, isRemote("https://example.com/a.csv"))
	assert.True(t, isRemote("http://example.com/a.csv"))
	assert.False(t, isRemote("data/a.csv"))
	assert.False(t, isRemote("/tmp/a.csv"))
}

func TestSampleTableParses(t *testing.T) {
	s, err := NewWithConfig(SourceConfig{Location: filepath.Join("..", "..", "data", "scifi_sample.csv")})
	require.NoError(t, err)

	movies, skipped, err := s.ReadAll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Len(t, movies, 15)
	assert.Equal(t, "Groundhog Day", movies[0].Name)
}
