package overlay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultAssetTimeout bounds a single icon download.
	DefaultAssetTimeout = 15 * time.Second

	// DefaultPixelRatio is the density icons are authored at.
	DefaultPixelRatio = 2.0

	// maxAssetBytes limits icon files to 8 MB.
	maxAssetBytes = 8 << 20
)

// AssetSource declares an icon image and where to load it from.
type AssetSource struct {
	Kind       MarkerKind `yaml:"kind" json:"kind"`
	Location   string     `yaml:"location" json:"location"` // file path or http(s) URL
	PixelRatio float64    `yaml:"pixelRatio,omitempty" json:"pixelRatio,omitempty"`
}

// ImageID is the identifier the icon is registered under.
func (a AssetSource) ImageID() string {
	return IconID(a.Kind)
}

func (a AssetSource) pixelRatio() float64 {
	if a.PixelRatio <= 0 {
		return DefaultPixelRatio
	}
	return a.PixelRatio
}

// FetchFunc returns the raw bytes stored at location.
type FetchFunc func(ctx context.Context, location string) ([]byte, error)

// AssetOption configures an AssetLoader.
type AssetOption func(*AssetLoader)

// WithAssetHTTPClient overrides the HTTP client used for URL locations.
func WithAssetHTTPClient(client *http.Client) AssetOption {
	return func(l *AssetLoader) {
		l.client = client
	}
}

// WithFetchFunc replaces file and HTTP fetching entirely (useful for testing).
func WithFetchFunc(f FetchFunc) AssetOption {
	return func(l *AssetLoader) {
		l.fetch = f
	}
}

// WithAssetMetrics records load results.
func WithAssetMetrics(m *Metrics) AssetOption {
	return func(l *AssetLoader) {
		l.metrics = m
	}
}

// AssetLoader registers icon images on a map view. Loads are memoized by
// image ID: an image already on the view is never fetched again, and
// concurrent loads of the same ID share one fetch. Failed loads are not
// remembered and are not retried.
type AssetLoader struct {
	view    MapView
	client  *http.Client
	fetch   FetchFunc
	metrics *Metrics
	group   singleflight.Group
}

// NewAssetLoader creates a loader that registers images on view.
func NewAssetLoader(view MapView, opts ...AssetOption) *AssetLoader {
	l := &AssetLoader{view: view}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = &http.Client{Timeout: DefaultAssetTimeout}
	}
	if l.fetch == nil {
		l.fetch = l.fetchLocation
	}
	return l
}

// Load fetches, decodes and registers one icon unless it is already registered.
func (l *AssetLoader) Load(ctx context.Context, src AssetSource) error {
	id := src.ImageID()
	if l.view.HasImage(id) {
		return nil
	}

	_, err, _ := l.group.Do(id, func() (interface{}, error) {
		if l.view.HasImage(id) {
			return nil, nil
		}
		data, err := l.fetch(ctx, src.Location)
		if err != nil {
			return nil, fmt.Errorf("load icon %s: %w", id, err)
		}
		img, err := DecodeImage(id, data)
		if err != nil {
			return nil, fmt.Errorf("load icon %s: %w", id, err)
		}
		err = l.view.AddImage(id, img, ImageOptions{PixelRatio: src.pixelRatio()})
		if err != nil && !errors.Is(err, ErrImageExists) {
			return nil, fmt.Errorf("load icon %s: %w", id, err)
		}
		return nil, nil
	})

	if err != nil {
		l.metrics.assetLoaded("error")
	} else {
		l.metrics.assetLoaded("ok")
	}
	return err
}

// LoadAll loads every source concurrently. Once all loads finish, onLoaded
// is called for each icon that ended up registered, in source order.
// Failures are logged; the first one is returned.
func (l *AssetLoader) LoadAll(ctx context.Context, srcs []AssetSource, onLoaded func(AssetSource)) error {
	var eg errgroup.Group
	loaded := make([]bool, len(srcs))
	for i, src := range srcs {
		eg.Go(func() error {
			if err := l.Load(ctx, src); err != nil {
				log.Printf("Warning: %v (routes with %s markers render line-only)", err, src.Kind)
				return err
			}
			loaded[i] = true
			return nil
		})
	}
	err := eg.Wait()

	if onLoaded != nil {
		for i, src := range srcs {
			if loaded[i] {
				onLoaded(src)
			}
		}
	}
	return err
}

func (l *AssetLoader) fetchLocation(ctx context.Context, location string) ([]byte, error) {
	if location == "" {
		return nil, fmt.Errorf("asset location is empty")
	}
	if strings.HasPrefix(location, "http://") || strings.HasPrefix(location, "https://") {
		return fetchURL(ctx, l.client, location)
	}
	data, err := os.ReadFile(location)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", location, err)
	}
	return data, nil
}

// fetchURL performs a single HTTP GET and returns the response body bytes.
func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "image/svg+xml, image/png, image/*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP GET %s: %w", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP GET %s: status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAssetBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", url, err)
	}
	return body, nil
}

// DecodeImage turns icon bytes into an Image. SVG documents are kept as
// source; PNG, JPEG and WebP are decoded into a bitmap.
func DecodeImage(id string, data []byte) (*Image, error) {
	if isSVG(data) {
		return &Image{ID: id, Format: "svg", Data: data}, nil
	}
	bm, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	b := bm.Bounds()
	return &Image{
		ID:     id,
		Format: format,
		Data:   data,
		Bitmap: bm,
		Width:  b.Dx(),
		Height: b.Dy(),
	}, nil
}

func isSVG(data []byte) bool {
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	head = bytes.TrimSpace(head)
	return bytes.Contains(head, []byte("<svg")) &&
		(bytes.HasPrefix(head, []byte("<svg")) || bytes.HasPrefix(head, []byte("<?xml")) || bytes.HasPrefix(head, []byte("<!--")))
}
