package sponsorblock

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sonroyaalmerol/tubequeue/internal/player"
	"github.com/sonroyaalmerol/tubequeue/internal/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seg(start, end, length float64) Segment {
	return Segment{Category: categoryMusicOfftopic, Segment: [2]float64{start, end}, VideoDuration: length}
}

func TestMergeSegments(t *testing.T) {
	in := []Segment{seg(50, 60, 0), seg(0, 10, 0), seg(5, 20, 0)}
	out := MergeSegments(in)
	require.Len(t, out, 2)
	assert.Equal(t, [2]float64{0, 20}, out[0].Segment)
	assert.Equal(t, [2]float64{50, 60}, out[1].Segment)
	assert.Equal(t, [2]float64{50, 60}, in[0].Segment, "input is left alone")
}

func TestWindow(t *testing.T) {
	cases := []struct {
		name string
		segs []Segment
		want Window
		ok   bool
	}{
		{"none", nil, Window{}, false},
		{"intro", []Segment{seg(1, 12.5, 200)}, Window{Start: 12500 * time.Millisecond}, true},
		{"outro", []Segment{seg(180, 199, 200)}, Window{End: 180 * time.Second}, true},
		{"both", []Segment{seg(0, 10, 200), seg(190, 200, 200)}, Window{Start: 10 * time.Second, End: 190 * time.Second}, true},
		{"middle only", []Segment{seg(60, 90, 200)}, Window{}, false},
		{"outro without length", []Segment{seg(180, 200, 0)}, Window{}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := window(tc.segs)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestVideoID(t *testing.T) {
	assert.Equal(t, "dQw4w9WgXcQ", VideoID("https://www.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1"))
	assert.Equal(t, "dQw4w9WgXcQ", VideoID("https://youtu.be/dQw4w9WgXcQ"))
	assert.Equal(t, "dQw4w9WgXcQ", VideoID("https://music.youtube.com/watch?v=dQw4w9WgXcQ"))
	assert.Equal(t, "dQw4w9WgXcQ", VideoID("https://youtube.com/shorts/dQw4w9WgXcQ"))
	assert.Empty(t, VideoID("ytsearch1:never gonna give you up"))
	assert.Empty(t, VideoID("https://example.com/watch?v=dQw4w9WgXcQ"))
	assert.Empty(t, VideoID("https://youtu.be/short"))
}

type countingSource struct {
	total int
	read  int
	vol   float64
}

func (s *countingSource) ReadFrame() ([]byte, error) {
	if s.read >= s.total {
		return nil, io.EOF
	}
	s.read++
	return []byte{byte(s.read)}, nil
}

func (s *countingSource) SetVolume(v float64) { s.vol = v }
func (s *countingSource) Volume() float64     { return s.vol }
func (s *countingSource) Close() error        { return nil }

func TestTrimmedSource(t *testing.T) {
	src := &countingSource{total: 100}
	tr := trim(src, Window{Start: 200 * time.Millisecond, End: 1 * time.Second})

	var frames [][]byte
	for {
		f, err := tr.ReadFrame()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		frames = append(frames, f)
	}
	require.Len(t, frames, 40)
	assert.Equal(t, byte(11), frames[0][0])

	tr.SetVolume(1.5)
	assert.InDelta(t, 1.5, src.Volume(), 1e-9)
}

func TestTrimmedSourceShorterThanIntro(t *testing.T) {
	tr := trim(&countingSource{total: 3}, Window{Start: time.Second})
	_, err := tr.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func newTestApplier(t *testing.T, h http.HandlerFunc) *Applier {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	a := NewApplier(time.Minute)
	a.client.baseURL = srv.URL
	return a
}

func TestApplierCachesSegments(t *testing.T) {
	var hits atomic.Int32
	a := newTestApplier(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "dQw4w9WgXcQ", r.URL.Query().Get("videoID"))
		assert.Equal(t, categoryMusicOfftopic, r.URL.Query().Get("category"))
		_, _ = io.WriteString(w, `[{"category":"music_offtopic","segment":[0,8],"UUID":"a","videoDuration":120}]`)
	})

	for range 2 {
		w, ok := a.Window(context.Background(), "dQw4w9WgXcQ")
		require.True(t, ok)
		assert.Equal(t, 8*time.Second, w.Start)
	}
	assert.Equal(t, int32(1), hits.Load())
}

func TestApplierNotFound(t *testing.T) {
	a := newTestApplier(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, ok := a.Window(context.Background(), "dQw4w9WgXcQ")
	assert.False(t, ok)
}

func TestApplierBacksOffWhenUnavailable(t *testing.T) {
	var hits atomic.Int32
	a := newTestApplier(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusGatewayTimeout)
	})
	now := time.Unix(1_700_000_000, 0)
	a.now = func() time.Time { return now }

	_, ok := a.Window(context.Background(), "dQw4w9WgXcQ")
	assert.False(t, ok)
	_, ok = a.Window(context.Background(), "aaaaaaaaaaa")
	assert.False(t, ok)
	assert.Equal(t, int32(1), hits.Load())

	now = now.Add(2 * time.Minute)
	_, _ = a.Window(context.Background(), "aaaaaaaaaaa")
	assert.Equal(t, int32(2), hits.Load())
}

type stubProvisioner struct{ src stream.Source }

func (p stubProvisioner) Open(ctx context.Context, url string, volume float64) (stream.Source, player.Process, error) {
	return p.src, nil, nil
}

func TestWrapTrimsYouTubeSources(t *testing.T) {
	a := newTestApplier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"category":"music_offtopic","segment":[0,0.1],"UUID":"a","videoDuration":60}]`)
	})
	src := &countingSource{total: 10}
	p := Wrap(stubProvisioner{src: src}, a)

	got, _, err := p.Open(context.Background(), "https://youtu.be/dQw4w9WgXcQ", 1)
	require.NoError(t, err)
	f, err := got.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, byte(6), f[0])

	plain := &countingSource{total: 10}
	got, _, err = Wrap(stubProvisioner{src: plain}, a).Open(context.Background(), "ytsearch1:song", 1)
	require.NoError(t, err)
	assert.Same(t, plain, got)
}
