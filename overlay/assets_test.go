package overlay

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="16" height="16"><path d="M0 0L16 8L0 16z"/></svg>`

func testPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAssetLoader_ConcurrentLoadsFetchOnce(t *testing.T) {
	v := testViewport(t)
	var fetches atomic.Int32
	release := make(chan struct{})
	l := NewAssetLoader(v, WithFetchFunc(func(ctx context.Context, location string) ([]byte, error) {
		fetches.Add(1)
		<-release
		return []byte(testSVG), nil
	}))

	src := AssetSource{Kind: MarkerCar, Location: "car.svg"}
	var wg sync.WaitGroup
	errs := make([]error, 20)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = l.Load(context.Background(), src)
		}()
	}
	close(release)
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), fetches.Load())
	assert.True(t, v.HasImage("car-icon"))

	require.NoError(t, l.Load(context.Background(), src))
	assert.Equal(t, int32(1), fetches.Load(), "registered images are never fetched again")
}

func TestAssetLoader_FailureIsNotMemoized(t *testing.T) {
	v := testViewport(t)
	m := NewMetrics()
	var calls int
	l := NewAssetLoader(v, WithAssetMetrics(m), WithFetchFunc(func(ctx context.Context, location string) ([]byte, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("connection refused")
		}
		return []byte(testSVG), nil
	}))

	src := AssetSource{Kind: MarkerPlane, Location: "plane.svg"}
	err := l.Load(context.Background(), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load icon plane-icon")
	assert.False(t, v.HasImage("plane-icon"))

	require.NoError(t, l.Load(context.Background(), src))
	assert.True(t, v.HasImage("plane-icon"))
	assert.Equal(t, 2, calls)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.assetLoads.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.assetLoads.WithLabelValues("ok")))
}

func TestAssetLoader_HTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/car.svg":
			w.Header().Set("Content-Type", "image/svg+xml")
			_, _ = w.Write([]byte(testSVG))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	v := testViewport(t)
	l := NewAssetLoader(v, WithAssetHTTPClient(srv.Client()))

	require.NoError(t, l.Load(context.Background(), AssetSource{Kind: MarkerCar, Location: srv.URL + "/car.svg"}))
	img, opts, ok := v.Image("car-icon")
	require.True(t, ok)
	assert.Equal(t, "svg", img.Format)
	assert.Equal(t, DefaultPixelRatio, opts.PixelRatio)

	err := l.Load(context.Background(), AssetSource{Kind: MarkerPlane, Location: srv.URL + "/plane.svg"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestAssetLoader_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plane.png")
	require.NoError(t, os.WriteFile(path, testPNG(t, 4, 6, color.Black), 0644))

	v := testViewport(t)
	l := NewAssetLoader(v)
	require.NoError(t, l.Load(context.Background(), AssetSource{Kind: MarkerPlane, Location: path, PixelRatio: 1}))

	img, opts, ok := v.Image("plane-icon")
	require.True(t, ok)
	assert.Equal(t, "png", img.Format)
	assert.Equal(t, 4, img.Width)
	assert.Equal(t, 6, img.Height)
	assert.NotNil(t, img.Bitmap)
	assert.Equal(t, 1.0, opts.PixelRatio)

	err := l.Load(context.Background(), AssetSource{Kind: MarkerCar, Location: filepath.Join(t.TempDir(), "missing.svg")})
	assert.Error(t, err)
}

func TestAssetLoader_LoadAllDeclaresLoadedKinds(t *testing.T) {
	v := testViewport(t)
	r, err := NewRegistry(tripDefinitions(t))
	require.NoError(t, err)
	require.NoError(t, r.Attach(v))

	l := NewAssetLoader(v, WithFetchFunc(func(ctx context.Context, location string) ([]byte, error) {
		if location == "plane.svg" {
			return nil, errors.New("not found")
		}
		return []byte(testSVG), nil
	}))

	err = l.LoadAll(context.Background(), []AssetSource{
		{Kind: MarkerCar, Location: "car.svg"},
		{Kind: MarkerPlane, Location: "plane.svg"},
	}, func(src AssetSource) {
		assert.NoError(t, r.DeclareMarkerLayer(v, src.Kind))
	})
	assert.Error(t, err)

	assert.True(t, r.MapContext().HasLayer(MarkerLayerID(MarkerCar)))
	assert.False(t, r.MapContext().HasLayer(MarkerLayerID(MarkerPlane)), "plane routes stay line-only")
}

func TestAssetLoader_LoadAllReportsInSourceOrder(t *testing.T) {
	v := testViewport(t)
	planeFetched := make(chan struct{})
	l := NewAssetLoader(v, WithFetchFunc(func(ctx context.Context, location string) ([]byte, error) {
		if location == "car.svg" {
			<-planeFetched
		} else {
			defer close(planeFetched)
		}
		return []byte(testSVG), nil
	}))

	var got []MarkerKind
	err := l.LoadAll(context.Background(), []AssetSource{
		{Kind: MarkerCar, Location: "car.svg"},
		{Kind: MarkerPlane, Location: "plane.svg"},
	}, func(src AssetSource) {
		got = append(got, src.Kind)
	})
	require.NoError(t, err)
	assert.Equal(t, []MarkerKind{MarkerCar, MarkerPlane}, got, "car finished last but is reported first")
}

func TestDecodeImage(t *testing.T) {
	tests := []struct {
		name       string
		data       []byte
		wantFormat string
		wantErr    bool
	}{
		{"svg", []byte(testSVG), "svg", false},
		{"svg with prolog", []byte(`<?xml version="1.0"?>` + "\n" + testSVG), "svg", false},
		{"png", testPNG(t, 2, 2, color.White), "png", false},
		{"garbage", []byte("definitely not an image"), "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := DecodeImage("x", tt.data)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrUnsupportedImage), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantFormat, img.Format)
			assert.Equal(t, "x", img.ID)
		})
	}
}
