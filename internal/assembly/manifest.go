// Package assembly walks a use case's slide manifest and binds typed view
// data into a language-neutral presentation manifest. The output is pure
// data; serializing it to presentation bytes is the renderer's job.
package assembly

// Rect is an element rectangle in inches. Manifests author positions in
// centimetres; the engine converts on the way in.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Image is a placed picture.
type Image struct {
	Path string `json:"path"`
	Rect Rect   `json:"rect"`
}

// Shape is a drawn primitive: LINE, RECTANGLE or CIRCLE.
type Shape struct {
	Kind      string `json:"kind"`
	Rect      Rect   `json:"rect"`
	Fill      string `json:"fill,omitempty"`
	LineColor string `json:"lineColor,omitempty"`
	Shadow    bool   `json:"shadow,omitempty"`
}

// TextSegment is one styled run within a text box.
type TextSegment struct {
	Text     string  `json:"text"`
	Color    string  `json:"color,omitempty"`
	FontSize float64 `json:"fontSize,omitempty"`
	Bold     bool    `json:"bold,omitempty"`
}

// TextBox is a placed sequence of segments.
type TextBox struct {
	Rect     Rect          `json:"rect"`
	Segments []TextSegment `json:"segments"`
	Align    string        `json:"align,omitempty"`
}

// TableBorders mirrors the manifest border switches.
type TableBorders struct {
	Outer           bool `json:"outer"`
	HeaderSeparator bool `json:"headerSeparator"`
	FirstColumn     bool `json:"firstColumn"`
	Internal        bool `json:"internal"`
}

// TableElement is a rendered data table. Every row has exactly
// len(Headers) cells; cell values are already display-formatted.
type TableElement struct {
	Rect      Rect         `json:"rect"`
	ColWidths []float64    `json:"colWidths"`
	Headers   []string     `json:"headers"`
	Rows      [][]string   `json:"rows"`
	Borders   TableBorders `json:"borders"`
}

// Series is one plotted value sequence. Line and SecondaryAxis only apply
// to BAR_LINE combos.
type Series struct {
	Name          string    `json:"name"`
	Values        []float64 `json:"values"`
	Line          bool      `json:"line,omitempty"`
	SecondaryAxis bool      `json:"secondaryAxis,omitempty"`
}

// ChartElement is a chart over a shared category axis.
type ChartElement struct {
	Kind       string   `json:"kind"`
	Rect       Rect     `json:"rect"`
	Title      string   `json:"title,omitempty"`
	Categories []string `json:"categories"`
	Series     []Series `json:"series"`
	ShowLegend bool     `json:"showLegend,omitempty"`
}

// Slide is one assembled slide: a background reference followed by the
// element lists, each preserving manifest order.
type Slide struct {
	Name       string         `json:"name,omitempty"`
	Background string         `json:"background,omitempty"`
	Images     []Image        `json:"images,omitempty"`
	Shapes     []Shape        `json:"shapes,omitempty"`
	Texts      []TextBox      `json:"texts,omitempty"`
	Tables     []TableElement `json:"tables,omitempty"`
	Charts     []ChartElement `json:"charts,omitempty"`
}

// PresentationManifest is the assembled artifact handed to the renderer.
type PresentationManifest struct {
	Title  string  `json:"title"`
	Layout string  `json:"layout"`
	Slides []Slide `json:"slides"`
}
