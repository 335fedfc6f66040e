package autocomplete

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSuggester(t *testing.T, body string) (*Suggester, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "yt", r.URL.Query().Get("ds"))
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	s := NewSuggester(nil)
	s.baseURL = srv.URL
	return s, &hits
}

func TestYouTubeSuggestionsAreCached(t *testing.T) {
	s, hits := newTestSuggester(t, `["rick",["rick astley","rick and morty"]]`)

	got, err := s.YouTube(context.Background(), "rick")
	require.NoError(t, err)
	assert.Equal(t, []string{"rick astley", "rick and morty"}, got)

	_, err = s.YouTube(context.Background(), " RICK ")
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load())
}

func TestChoicesAreBounded(t *testing.T) {
	long := strings.Repeat("a", 150)
	s, _ := newTestSuggester(t, `["q",["one","two","three","`+long+`"]]`)

	choices := s.Choices(context.Background(), "q", 3)
	require.Len(t, choices, 3)
	assert.Equal(t, "YouTube: one", choices[0].Name)
	assert.Equal(t, "one", choices[0].Value)

	choices = s.Choices(context.Background(), "q", 10)
	require.Len(t, choices, 4)
	assert.LessOrEqual(t, len([]rune(choices[3].Name)), maxChoiceLen)
}

func TestMalformedSuggestions(t *testing.T) {
	s, _ := newTestSuggester(t, `["q"]`)
	got, err := s.YouTube(context.Background(), "q")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, s.Choices(context.Background(), "q", 5))
}
