package assembly

import (
	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/transform"
)

// Manifest positions are authored in centimetres; output rectangles are
// inches.
const cmPerInch = 2.54

// defaultLayout applies when a slide manifest does not pick one.
const defaultLayout = "LAYOUT_WIDE"

// Engine interprets slide manifests. Stateless beyond its dependencies;
// safe for concurrent use.
type Engine struct {
	registry *config.Registry
	logger   *zap.Logger
}

// New creates an Engine.
func New(registry *config.Registry, logger *zap.Logger) *Engine {
	return &Engine{
		registry: registry,
		logger:   logger.Named("assembly"),
	}
}

// Assemble walks the use case's slide manifest and binds view data into a
// presentation manifest. Missing data bindings drop the affected element
// with a warning; the slide itself always emits. The only error is an
// unknown use case.
func (e *Engine) Assemble(useCase string, data map[string]*transform.ViewData) (*PresentationManifest, error) {
	manifest, err := e.registry.SlideManifest(useCase)
	if err != nil {
		return nil, err
	}

	layout := manifest.Layout
	if layout == "" {
		layout = defaultLayout
	}

	out := &PresentationManifest{
		Title:  manifest.Title,
		Layout: layout,
		Slides: make([]Slide, 0, len(manifest.Slides)),
	}
	for _, spec := range manifest.Slides {
		out.Slides = append(out.Slides, e.buildSlide(useCase, spec, data))
	}
	return out, nil
}

func (e *Engine) buildSlide(useCase string, spec config.SlideSpec, data map[string]*transform.ViewData) Slide {
	slide := Slide{Name: spec.Name, Background: spec.Background}

	for _, el := range spec.Elements {
		rect := toInches(el.Position)
		switch el.Type {
		case config.ElementImage:
			slide.Images = append(slide.Images, Image{Path: el.Path, Rect: rect})

		case config.ElementShape:
			shape := Shape{Kind: el.Shape, Rect: rect}
			if el.Style != nil {
				shape.Fill = resolveColor(el.Style.Fill)
				shape.LineColor = resolveColor(el.Style.LineColor)
				shape.Shadow = el.Style.Shadow
			}
			slide.Shapes = append(slide.Shapes, shape)

		case config.ElementText:
			if box, ok := e.buildText(useCase, spec.Name, el, rect, data); ok {
				slide.Texts = append(slide.Texts, box)
			}

		case config.ElementTable:
			if table, ok := e.buildTable(useCase, spec.Name, el, rect, data); ok {
				slide.Tables = append(slide.Tables, table)
			}

		case config.ElementChart:
			if chart, ok := e.buildChart(useCase, spec.Name, el, rect, data); ok {
				slide.Charts = append(slide.Charts, chart)
			}
		}
	}
	return slide
}

// buildText assembles a text box from a literal, a data binding, or a
// segment list. An element whose every binding is unresolvable (and has
// no fallback) is dropped.
func (e *Engine) buildText(useCase, slideName string, el config.ElementSpec, rect Rect, data map[string]*transform.ViewData) (TextBox, bool) {
	box := TextBox{Rect: rect}
	if el.Style != nil {
		box.Align = resolveAlign(el.Style.Align)
	}

	appendRun := func(text string, style *config.StyleSpec) {
		seg := TextSegment{Text: text}
		if style != nil {
			seg.Color = resolveColor(style.Color)
			seg.FontSize = style.FontSize
			seg.Bold = style.Bold
		}
		box.Segments = append(box.Segments, seg)
	}

	switch {
	case len(el.Segments) > 0:
		for _, s := range el.Segments {
			text := s.Text
			if s.ValueKey != "" {
				resolved, ok := boundValue(data, s.ValueKey)
				switch {
				case ok:
					text = resolved
				case s.Fallback != "":
					text = s.Fallback
				default:
					e.warnUnbound(useCase, slideName, s.ValueKey)
					continue
				}
			}
			appendRun(text, s.Options)
		}

	case el.ValueKey != "":
		text, ok := boundValue(data, el.ValueKey)
		switch {
		case ok:
		case el.Fallback != "":
			text = el.Fallback
		default:
			e.warnUnbound(useCase, slideName, el.ValueKey)
			return TextBox{}, false
		}
		appendRun(text, el.Style)

	default:
		appendRun(el.Text, el.Style)
	}

	if len(box.Segments) == 0 {
		return TextBox{}, false
	}
	return box, true
}

func (e *Engine) buildTable(useCase, slideName string, el config.ElementSpec, rect Rect, data map[string]*transform.ViewData) (TableElement, bool) {
	source := tableData(data, el.DataKey)
	if source == nil {
		e.warnUnbound(useCase, slideName, el.DataKey)
		return TableElement{}, false
	}

	headers := make([]string, len(source.Headers))
	for i, h := range source.Headers {
		headers[i] = h.DisplayName
	}
	rows := make([][]string, len(source.Rows))
	for i, row := range source.Rows {
		out := make([]string, len(row))
		for j, cell := range row {
			out[j] = FormatValue(cell.Value, cell.Format)
		}
		rows[i] = out
	}

	table := TableElement{Rect: rect, Headers: headers, Rows: rows}
	var style config.TableStyleSpec
	if el.Table != nil {
		style = *el.Table
	}
	table.Borders = TableBorders{
		Outer:           style.OuterBorder,
		HeaderSeparator: style.HeaderSeparator,
		FirstColumn:     style.FirstColSeparator,
		Internal:        style.InternalBorders,
	}

	switch {
	case len(style.ColWidths) == len(headers):
		table.ColWidths = style.ColWidths
	default:
		total := style.TotalWidth
		if total == 0 {
			total = rect.W
		}
		table.ColWidths = fitColumnWidths(headers, rows, total)
	}
	return table, true
}

// buildChart converts table rows into a category axis plus numeric
// series. The first STRING column provides categories; every numeric
// column becomes a series. For BAR_LINE combos the configured line series
// are drawn as the line overlay, optionally on a secondary value axis.
func (e *Engine) buildChart(useCase, slideName string, el config.ElementSpec, rect Rect, data map[string]*transform.ViewData) (ChartElement, bool) {
	source := tableData(data, el.DataKey)
	if source == nil {
		e.warnUnbound(useCase, slideName, el.DataKey)
		return ChartElement{}, false
	}

	spec := el.Chart
	chart := ChartElement{
		Kind:       spec.Kind,
		Rect:       rect,
		Title:      spec.Title,
		ShowLegend: spec.ShowLegend,
	}

	categoryCol := 0
	for i, h := range source.Headers {
		if !h.Format.Numeric() {
			categoryCol = i
			break
		}
	}
	chart.Categories = make([]string, len(source.Rows))
	for i, row := range source.Rows {
		chart.Categories[i] = row[categoryCol].Value
	}

	lineFields := make(map[string]bool, len(spec.LineSeries))
	for _, f := range spec.LineSeries {
		lineFields[f] = true
	}
	for col, h := range source.Headers {
		if !h.Format.Numeric() {
			continue
		}
		values := make([]float64, len(source.Rows))
		for i, row := range source.Rows {
			values[i] = parseNumeric(row[col].Value)
		}
		s := Series{Name: h.DisplayName, Values: values}
		if spec.Kind == "BAR_LINE" && lineFields[h.Field] {
			s.Line = true
			s.SecondaryAxis = spec.SecondaryAxis
		}
		chart.Series = append(chart.Series, s)
	}
	return chart, true
}

func (e *Engine) warnUnbound(useCase, slideName, key string) {
	e.logger.Warn("data binding unresolved, dropping element",
		zap.String("use_case", useCase),
		zap.String("slide", slideName),
		zap.String("key", key),
	)
}

// boundValue resolves a valueKey against the view data map: flag cards
// yield their formatted scalar, tables their formatted first cell.
func boundValue(data map[string]*transform.ViewData, key string) (string, bool) {
	vd, ok := data[key]
	if !ok || vd == nil {
		return "", false
	}
	switch {
	case vd.Flag != nil:
		return FormatValue(vd.Flag.Value, vd.Flag.Format), true
	case vd.Table != nil && len(vd.Table.Rows) > 0 && len(vd.Table.Rows[0]) > 0:
		first := vd.Table.Rows[0][0]
		return FormatValue(first.Value, first.Format), true
	}
	return "", false
}

func tableData(data map[string]*transform.ViewData, key string) *transform.Table {
	vd, ok := data[key]
	if !ok || vd == nil || vd.Table == nil {
		return nil
	}
	return vd.Table
}

func toInches(b config.Box) Rect {
	return Rect{
		X: b.X / cmPerInch,
		Y: b.Y / cmPerInch,
		W: b.W / cmPerInch,
		H: b.H / cmPerInch,
	}
}

// fitColumnWidths sizes each column to its widest cell (header included)
// and scales the result to the total width.
func fitColumnWidths(headers []string, rows [][]string, total float64) []float64 {
	if len(headers) == 0 {
		return nil
	}
	weights := make([]float64, len(headers))
	sum := 0.0
	for i, h := range headers {
		widest := len([]rune(h))
		for _, row := range rows {
			if i < len(row) && len([]rune(row[i])) > widest {
				widest = len([]rune(row[i]))
			}
		}
		if widest < 1 {
			widest = 1
		}
		weights[i] = float64(widest)
		sum += weights[i]
	}
	widths := make([]float64, len(headers))
	for i, w := range weights {
		widths[i] = total * w / sum
	}
	return widths
}
