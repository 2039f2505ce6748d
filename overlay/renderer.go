package overlay

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

// glyphBasePx is the on-screen length of a marker glyph at icon-size 1.
const glyphBasePx = 8.0

var (
	pinFill   = color.RGBA{0xd1, 0x49, 0x5b, 0xff}
	pinStroke = color.RGBA{0xff, 0xff, 0xff, 0xff}
	gridColor = color.RGBA{0xdd, 0xdd, 0xdd, 0xff}
)

// canvasRenderer is implemented by both the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// SnapshotRenderer draws what the viewport currently shows: a graticule,
// the declared route layers in order, then the pins on top.
type SnapshotRenderer struct {
	View       *Viewport
	Registry   *Registry
	Waypoints  []Waypoint
	Resolution canvas.Resolution // PNG pixels per canvas unit (default 1 per px)
	Graticule  bool
}

// NewSnapshotRenderer creates a renderer with default settings.
func NewSnapshotRenderer(view *Viewport, reg *Registry, waypoints []Waypoint) *SnapshotRenderer {
	return &SnapshotRenderer{
		View:       view,
		Registry:   reg,
		Waypoints:  waypoints,
		Resolution: canvas.DPMM(1),
		Graticule:  true,
	}
}

// snapshotFrame is the state one render works from.
type snapshotFrame struct {
	state  ViewportState
	routes *geojson.FeatureCollection
	layers []LayerSpec
	width  float64
	height float64
}

func (r *SnapshotRenderer) frame() snapshotFrame {
	state := r.View.State()
	f := snapshotFrame{
		state:  state,
		layers: r.View.Layers(),
		width:  float64(state.Width),
		height: float64(state.Height),
	}
	if r.Registry != nil {
		if src, ok := r.View.Source(r.Registry.MapContext().SourceID); ok && src.Data() != nil {
			f.routes = src.Data()
		} else {
			f.routes = r.Registry.Recompute(state)
		}
	}
	if f.routes == nil {
		f.routes = geojson.NewFeatureCollection()
	}
	return f
}

// RenderToSVG writes the snapshot as an SVG to the provided writer.
func (r *SnapshotRenderer) RenderToSVG(w io.Writer) error {
	f := r.frame()
	svgRenderer := svg.New(w, f.width, f.height, nil)
	r.renderToCanvas(svgRenderer, f, false)
	if err := svgRenderer.Close(); err != nil {
		return fmt.Errorf("closing svg: %w", err)
	}
	return nil
}

// RenderToPNG writes the snapshot as a PNG to the provided writer. Raster
// icons are composited as bitmaps and pin labels are drawn as text.
func (r *SnapshotRenderer) RenderToPNG(w io.Writer) error {
	f := r.frame()
	res := r.Resolution
	if res == 0 {
		res = canvas.DPMM(1)
	}
	rast := rasterizer.New(f.width, f.height, res, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, f, true)

	scale := float64(res.DPMM())
	r.drawBitmapIcons(rast, f, scale)
	r.drawPinLabels(rast, scale)

	return png.Encode(w, rast)
}

func (r *SnapshotRenderer) renderToCanvas(renderer canvasRenderer, f snapshotFrame, raster bool) {
	toCanvas := func(s ScreenPoint) (float64, float64) {
		return s.X, f.height - s.Y
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	bgStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
	renderer.RenderPath(canvas.Rectangle(f.width, f.height), bgStyle, canvas.Identity)

	if r.Graticule {
		r.renderGraticule(renderer, f, toCanvas)
	}

	for _, layer := range f.layers {
		switch layer.Type {
		case "line":
			renderLineLayer(renderer, f, layer, toCanvas)
		case "symbol":
			r.renderSymbolLayer(renderer, f, layer, toCanvas, raster)
		}
	}

	pinStyle := canvas.DefaultStyle
	pinStyle.Fill = canvas.Paint{Color: pinFill}
	pinStyle.Stroke = canvas.Paint{Color: pinStroke}
	pinStyle.StrokeWidth = 2

	smallStyle := pinStyle
	smallStyle.Fill = canvas.Paint{Color: pinStroke}
	smallStyle.Stroke = canvas.Paint{Color: pinFill}

	for _, wp := range r.Waypoints {
		center := AnchorCenter(f.state, wp.Anchor())
		cx, cy := toCanvas(center)
		style := pinStyle
		if wp.Small {
			style = smallStyle
		}
		pin := canvas.Circle(wp.RadiusPx() - 1)
		pin = pin.Translate(cx, cy)
		renderer.RenderPath(pin, style, canvas.Identity)
	}
}

func renderLineLayer(renderer canvasRenderer, f snapshotFrame, layer LayerSpec, toCanvas func(ScreenPoint) (float64, float64)) {
	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: paintColor(layer.Paint, "line-color", "line-opacity")}
	style.StrokeWidth = paintNumber(layer.Paint, "line-width", 1)
	if dashes, ok := layer.Paint["line-dasharray"].([]float64); ok {
		for _, d := range dashes {
			style.Dashes = append(style.Dashes, d*style.StrokeWidth)
		}
	}

	for _, feat := range f.routes.Features {
		if !MatchFilter(layer.Filter, feat.Properties) {
			continue
		}
		ls, ok := feat.Geometry.(orb.LineString)
		if !ok || len(ls) < 2 {
			continue
		}
		path := &canvas.Path{}
		for i, pt := range ls {
			cx, cy := toCanvas(f.state.Project(pt))
			if i == 0 {
				path.MoveTo(cx, cy)
			} else {
				path.LineTo(cx, cy)
			}
		}
		renderer.RenderPath(path, style, canvas.Identity)
	}
}

func (r *SnapshotRenderer) renderSymbolLayer(renderer canvasRenderer, f snapshotFrame, layer LayerSpec, toCanvas func(ScreenPoint) (float64, float64), raster bool) {
	if f.state.Zoom < layer.MinZoom {
		return
	}
	iconID, _ := layer.Layout["icon-image"].(string)
	img, _, ok := r.View.Image(iconID)
	if !ok {
		return
	}
	if raster && img.Bitmap != nil {
		// Composited after rasterization by drawBitmapIcons.
		return
	}

	size := paintNumber(layer.Layout, "icon-size", 1) * glyphBasePx
	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Black}
	style.Stroke = canvas.Paint{Color: canvas.White}
	style.StrokeWidth = 1

	for _, feat := range f.routes.Features {
		if !MatchFilter(layer.Filter, feat.Properties) {
			continue
		}
		pt, ok := feat.Geometry.(orb.Point)
		if !ok {
			continue
		}
		at := f.state.Project(pt)
		rot := EvalNumber(layer.Layout["icon-rotate"], feat.Properties)
		glyph := markerGlyph(MarkerKind(feat.Properties.MustString(PropMarkerKind, "")))

		path := &canvas.Path{}
		for i, g := range glyph {
			cx, cy := toCanvas(at.Add(rotate(g.Scale(size), rot)))
			if i == 0 {
				path.MoveTo(cx, cy)
			} else {
				path.LineTo(cx, cy)
			}
		}
		path.Close()
		renderer.RenderPath(path, style, canvas.Identity)
	}
}

// drawBitmapIcons composites raster icons onto the rasterized snapshot,
// rotated about their center like maplibre's icon-rotate.
func (r *SnapshotRenderer) drawBitmapIcons(dst draw.Image, f snapshotFrame, scale float64) {
	for _, layer := range f.layers {
		if layer.Type != "symbol" || f.state.Zoom < layer.MinZoom {
			continue
		}
		iconID, _ := layer.Layout["icon-image"].(string)
		img, opts, ok := r.View.Image(iconID)
		if !ok || img.Bitmap == nil {
			continue
		}
		ratio := opts.PixelRatio
		if ratio <= 0 {
			ratio = 1
		}
		k := paintNumber(layer.Layout, "icon-size", 1) / ratio * scale
		sr := img.Bitmap.Bounds()
		c0x := float64(sr.Min.X) + float64(sr.Dx())/2
		c0y := float64(sr.Min.Y) + float64(sr.Dy())/2

		for _, feat := range f.routes.Features {
			if !MatchFilter(layer.Filter, feat.Properties) {
				continue
			}
			pt, ok := feat.Geometry.(orb.Point)
			if !ok {
				continue
			}
			at := f.state.Project(pt).Scale(scale)
			theta := EvalNumber(layer.Layout["icon-rotate"], feat.Properties) * math.Pi / 180
			a, b := k*math.Cos(theta), -k*math.Sin(theta)
			d, e := k*math.Sin(theta), k*math.Cos(theta)
			s2d := f64.Aff3{
				a, b, at.X - (a*c0x + b*c0y),
				d, e, at.Y - (d*c0x + e*c0y),
			}
			draw.CatmullRom.Transform(dst, s2d, img.Bitmap, sr, draw.Over, nil)
		}
	}
}

// drawPinLabels writes each pin's night count inside its circle.
func (r *SnapshotRenderer) drawPinLabels(dst draw.Image, scale float64) {
	state := r.View.State()
	face := basicfont.Face7x13
	for _, wp := range r.Waypoints {
		label := wp.Label()
		if label == "" {
			continue
		}
		c := AnchorCenter(state, wp.Anchor()).Scale(scale)
		adv := font.MeasureString(face, label).Round()
		d := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.White),
			Face: face,
			Dot:  fixed.Point26_6{X: fixed.I(int(c.X) - adv/2), Y: fixed.I(int(c.Y) + 5)},
		}
		d.DrawString(label)
	}
}

func (r *SnapshotRenderer) renderGraticule(renderer canvasRenderer, f snapshotFrame, toCanvas func(ScreenPoint) (float64, float64)) {
	nw := f.state.Unproject(ScreenPoint{X: 0, Y: 0})
	se := f.state.Unproject(ScreenPoint{X: f.width, Y: f.height})
	step := graticuleStep(f.state)

	style := canvas.DefaultStyle
	style.Fill = canvas.Paint{Color: canvas.Transparent}
	style.Stroke = canvas.Paint{Color: gridColor}
	style.StrokeWidth = 1
	style.Dashes = []float64{4, 4}

	for lng := math.Ceil(nw[0]/step) * step; lng <= se[0]; lng += step {
		x := f.state.Project(orb.Point{lng, f.state.Center[1]}).X
		path := &canvas.Path{}
		path.MoveTo(toCanvas(ScreenPoint{X: x, Y: 0}))
		path.LineTo(toCanvas(ScreenPoint{X: x, Y: f.height}))
		renderer.RenderPath(path, style, canvas.Identity)
	}
	for lat := math.Ceil(se[1]/step) * step; lat <= nw[1]; lat += step {
		y := f.state.Project(orb.Point{f.state.Center[0], lat}).Y
		path := &canvas.Path{}
		path.MoveTo(toCanvas(ScreenPoint{X: 0, Y: y}))
		path.LineTo(toCanvas(ScreenPoint{X: f.width, Y: y}))
		renderer.RenderPath(path, style, canvas.Identity)
	}
}

// graticuleStep picks the finest round degree spacing that keeps grid lines
// at least 80px apart.
func graticuleStep(s ViewportState) float64 {
	pxPerDeg := s.Project(orb.Point{s.Center[0] + 1, s.Center[1]}).X - s.Project(s.Center).X
	for _, step := range []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30} {
		if step*pxPerDeg >= 80 {
			return step
		}
	}
	return 60
}

// markerGlyph returns a unit outline for a marker kind in screen axes,
// centered on the origin. The car faces -x and the plane faces +x, matching
// the rotation offsets of their layers.
func markerGlyph(kind MarkerKind) []ScreenPoint {
	if kind == MarkerPlane {
		return []ScreenPoint{
			{0.5, 0}, {0.3, -0.06}, {0.05, -0.06}, {-0.15, -0.45}, {-0.25, -0.45},
			{-0.12, -0.06}, {-0.38, -0.06}, {-0.48, -0.2}, {-0.5, -0.2}, {-0.45, 0},
			{-0.5, 0.2}, {-0.48, 0.2}, {-0.38, 0.06}, {-0.12, 0.06}, {-0.25, 0.45},
			{-0.15, 0.45}, {0.05, 0.06}, {0.3, 0.06},
		}
	}
	return []ScreenPoint{
		{-0.5, -0.1}, {-0.35, -0.22}, {0.1, -0.22}, {0.25, -0.1}, {0.5, -0.08},
		{0.5, 0.18}, {-0.5, 0.18},
	}
}

// rotate turns s clockwise on screen by deg degrees.
func rotate(s ScreenPoint, deg float64) ScreenPoint {
	rad := deg * math.Pi / 180
	sin, cos := math.Sincos(rad)
	return ScreenPoint{X: s.X*cos - s.Y*sin, Y: s.X*sin + s.Y*cos}
}

// paintColor reads a hex color and an optional opacity property and returns
// the premultiplied color canvas expects.
func paintColor(props map[string]interface{}, colorKey, opacityKey string) color.RGBA {
	hex, _ := props[colorKey].(string)
	c, err := ParseHexColor(hex)
	if err != nil {
		c = color.RGBA{A: 255}
	}
	opacity := paintNumber(props, opacityKey, 1)
	return nrgbaToRGBA(color.NRGBA{R: c.R, G: c.G, B: c.B, A: uint8(math.Round(opacity * 255))})
}

func paintNumber(props map[string]interface{}, key string, def float64) float64 {
	switch v := props[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// nrgbaToRGBA premultiplies alpha.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}

// MatchFilter evaluates the subset of maplibre filter expressions the layer
// specs use: "all" of "==" comparisons between ["get", key] and a literal.
// An empty filter matches everything.
func MatchFilter(filter []interface{}, props geojson.Properties) bool {
	if len(filter) == 0 {
		return true
	}
	op, _ := filter[0].(string)
	switch op {
	case "all":
		for _, sub := range filter[1:] {
			expr, ok := sub.([]interface{})
			if !ok || !MatchFilter(expr, props) {
				return false
			}
		}
		return true
	case "==":
		if len(filter) != 3 {
			return false
		}
		return evalValue(filter[1], props) == evalValue(filter[2], props)
	}
	return false
}

// EvalNumber evaluates a numeric layout expression: a literal,
// ["get", key] or ["+", expr...].
func EvalNumber(expr interface{}, props geojson.Properties) float64 {
	switch v := evalValue(expr, props).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func evalValue(expr interface{}, props geojson.Properties) interface{} {
	e, ok := expr.([]interface{})
	if !ok || len(e) == 0 {
		return expr
	}
	op, _ := e[0].(string)
	switch op {
	case "get":
		if len(e) == 2 {
			if key, ok := e[1].(string); ok {
				return props[key]
			}
		}
	case "+":
		sum := 0.0
		for _, arg := range e[1:] {
			sum += EvalNumber(arg, props)
		}
		return sum
	}
	return nil
}
