package stream

import (
	"io"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClampVolume(t *testing.T) {
	cases := map[string]struct {
		in, want float64
	}{
		"unity":    {1, 1},
		"half":     {0.5, 0.5},
		"negative": {-0.3, 0},
		"too loud": {3.7, MaxVolume},
		"nan":      {math.NaN(), 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClampVolume(tc.in))
		})
	}
}

func TestHeadReaderReplay(t *testing.T) {
	h := newHeadReader(strings.NewReader("abcdefgh"))

	buf := make([]byte, 3)
	n, err := h.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.True(t, h.Received())

	select {
	case <-h.data:
	default:
		t.Fatal("data signal not raised")
	}

	all, err := io.ReadAll(h.replay())
	require.NoError(t, err)
	assert.Equal(t, "abcdefgh", string(all))
}

func TestHeadReaderEmpty(t *testing.T) {
	h := newHeadReader(strings.NewReader(""))
	_, err := h.Read(make([]byte, 8))
	assert.ErrorIs(t, err, io.EOF)
	assert.False(t, h.Received())

	select {
	case <-h.empty:
	default:
		t.Fatal("empty signal not raised")
	}
}
