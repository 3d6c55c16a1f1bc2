package config

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// Sentinel errors returned by registry lookups and manifest loading.
var (
	// ErrUseCaseNotFound is returned when a lookup names a use case that
	// none of the manifests define.
	ErrUseCaseNotFound = errors.New("config: use case not found")

	// ErrInvalidManifest is returned when a manifest file is present but
	// structurally invalid. Startup fails on this error.
	ErrInvalidManifest = errors.New("config: invalid manifest")
)

// Format identifies how a cell value is normalized and later rendered.
type Format string

const (
	FormatCurrency   Format = "CURRENCY"
	FormatNumber     Format = "NUMBER"
	FormatDecimal    Format = "DECIMAL"
	FormatPercentage Format = "PERCENTAGE"
	FormatString     Format = "STRING"
)

// Numeric reports whether the format carries a numeric value whose comma
// grouping must be stripped during transformation.
func (f Format) Numeric() bool {
	switch f {
	case FormatCurrency, FormatNumber, FormatDecimal, FormatPercentage:
		return true
	}
	return false
}

// ViewType distinguishes single-value views from tabular views.
type ViewType string

const (
	ViewTypeFlagCard ViewType = "FLAG_CARD"
	ViewTypeTable    ViewType = "TABLE"
)

// ElementType enumerates the slide element kinds the assembly engine knows.
type ElementType string

const (
	ElementImage ElementType = "IMAGE"
	ElementShape ElementType = "SHAPE"
	ElementText  ElementType = "TEXT"
	ElementTable ElementType = "TABLE"
	ElementChart ElementType = "CHART"
)

// UseCaseMeta maps a use case to its Tableau workbook and site.
type UseCaseMeta struct {
	WorkbookName string `json:"workbookName"`
	SiteName     string `json:"siteName"`
}

// ColumnSchema describes one logical field of a view: where to find it in
// the CSV payload and how to present it.
type ColumnSchema struct {
	FieldKey        string `json:"field"`
	ColumnName      string `json:"column"`
	DisplayName     string `json:"display"`
	Format          Format `json:"format"`
	IsNeededForView bool   `json:"needed"`
}

// ViewConfig is the declarative description of a single remote view within
// a use case. Ordering of Columns and FilterKeys is significant and is
// preserved from the manifest.
type ViewConfig struct {
	Key        string         `json:"key"`
	Name       string         `json:"name"`
	Type       ViewType       `json:"type"`
	Columns    []ColumnSchema `json:"columns"`
	FilterKeys []string       `json:"filters"`
}

// ViewCatalog is the ordered set of views for a use case plus the bindings
// from logical filter keys to remote query parameter names.
type ViewCatalog struct {
	Views          []ViewConfig      `json:"views"`
	FilterBindings map[string]string `json:"filterBindings"`
}

// Box is a rectangle in centimetres as authored in the slide manifests.
// The assembly engine converts it to inches.
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// StyleSpec carries the optional presentation options of an element or a
// text segment. Color and Fill are either hex values or named palette
// tokens resolved by the assembly engine.
type StyleSpec struct {
	Color     string  `json:"color,omitempty"`
	Fill      string  `json:"fill,omitempty"`
	LineColor string  `json:"lineColor,omitempty"`
	Align     string  `json:"align,omitempty"`
	FontSize  float64 `json:"fontSize,omitempty"`
	Bold      bool    `json:"bold,omitempty"`
	Shadow    bool    `json:"shadow,omitempty"`
}

// SegmentSpec is one run of a TEXT element. Exactly one of Text or ValueKey
// is normally set: a literal, or a binding into view data. Fallback is used
// when the binding cannot be resolved.
type SegmentSpec struct {
	Text     string     `json:"text,omitempty"`
	ValueKey string     `json:"valueKey,omitempty"`
	Fallback string     `json:"fallback,omitempty"`
	Options  *StyleSpec `json:"options,omitempty"`
}

// TableStyleSpec configures table geometry and borders.
type TableStyleSpec struct {
	// ColWidths lists explicit column widths in inches. When empty the
	// engine computes widths so each column fits its widest cell, scaled
	// to TotalWidth.
	ColWidths  []float64 `json:"colWidths,omitempty"`
	TotalWidth float64   `json:"totalWidth,omitempty"`

	OuterBorder       bool `json:"outerBorder"`
	HeaderSeparator   bool `json:"headerSeparator"`
	FirstColSeparator bool `json:"firstColSeparator"`
	InternalBorders   bool `json:"internalBorders"`
}

// ChartSpec configures a CHART element. Kind is one of BAR, LINE, PIE,
// BAR_LINE. For BAR_LINE, LineSeries names the table fields drawn as the
// line overlay; SecondaryAxis puts that overlay on its own value axis.
type ChartSpec struct {
	Kind          string   `json:"kind"`
	LineSeries    []string `json:"lineSeries,omitempty"`
	SecondaryAxis bool     `json:"secondaryAxis,omitempty"`
	Title         string   `json:"title,omitempty"`
	ShowLegend    bool     `json:"showLegend,omitempty"`
}

// ElementSpec is one declarative slide element. Which optional fields apply
// depends on Type; Validate enforces the pairing at load time so the
// assembly engine never sees a malformed descriptor.
type ElementSpec struct {
	Type     ElementType `json:"type"`
	Position Box         `json:"position"`

	// IMAGE
	Path string `json:"path,omitempty"`

	// SHAPE — one of LINE, RECTANGLE, CIRCLE.
	Shape string `json:"shape,omitempty"`

	// TEXT
	Text     string        `json:"text,omitempty"`
	Segments []SegmentSpec `json:"segments,omitempty"`
	ValueKey string        `json:"valueKey,omitempty"`
	Fallback string        `json:"fallback,omitempty"`

	// TABLE / CHART data binding.
	DataKey string `json:"dataKey,omitempty"`

	Table *TableStyleSpec `json:"table,omitempty"`
	Chart *ChartSpec      `json:"chart,omitempty"`
	Style *StyleSpec      `json:"style,omitempty"`
}

// SlideSpec is one slide descriptor: a background reference followed by an
// ordered list of elements.
type SlideSpec struct {
	Name       string        `json:"name,omitempty"`
	Background string        `json:"background,omitempty"`
	Elements   []ElementSpec `json:"elements"`
}

// SlideManifest is the full slide plan for a use case. Immutable at
// runtime.
type SlideManifest struct {
	Title  string      `json:"title"`
	Layout string      `json:"layout,omitempty"`
	Slides []SlideSpec `json:"slides"`
}

//go:embed manifests/*.json
var defaultManifests embed.FS

// Manifest file names expected in a config directory (or the embedded
// defaults).
const (
	fileUseCaseMapping = "usecase-mapping.json"
	fileTableauViews   = "tableau-views.json"
	fileSlideMapping   = "slide-view-mapping.json"
)

// Registry exposes the three manifest lookups. It is loaded once at
// startup and read-only thereafter, so lookups need no locking.
type Registry struct {
	meta     map[string]UseCaseMeta
	catalogs map[string]ViewCatalog
	slides   map[string]SlideManifest
}

// LoadRegistry reads the three manifest files from dir, or from the
// embedded defaults when dir is empty. Any structural problem fails the
// load — a service with a broken manifest must not start.
func LoadRegistry(dir string) (*Registry, error) {
	read := func(name string) ([]byte, error) {
		if dir == "" {
			return fs.ReadFile(defaultManifests, filepath.Join("manifests", name))
		}
		return os.ReadFile(filepath.Join(dir, name))
	}

	r := &Registry{}

	raw, err := read(fileUseCaseMapping)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", fileUseCaseMapping, err)
	}
	if err := json.Unmarshal(raw, &r.meta); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, fileUseCaseMapping, err)
	}

	raw, err = read(fileTableauViews)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", fileTableauViews, err)
	}
	if err := json.Unmarshal(raw, &r.catalogs); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, fileTableauViews, err)
	}

	raw, err = read(fileSlideMapping)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", fileSlideMapping, err)
	}
	if err := json.Unmarshal(raw, &r.slides); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidManifest, fileSlideMapping, err)
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// UseCaseMeta returns the workbook/site mapping for a use case.
func (r *Registry) UseCaseMeta(useCase string) (UseCaseMeta, error) {
	m, ok := r.meta[useCase]
	if !ok {
		return UseCaseMeta{}, fmt.Errorf("%w: %s", ErrUseCaseNotFound, useCase)
	}
	return m, nil
}

// ViewCatalog returns the ordered view catalog for a use case.
func (r *Registry) ViewCatalog(useCase string) (ViewCatalog, error) {
	c, ok := r.catalogs[useCase]
	if !ok {
		return ViewCatalog{}, fmt.Errorf("%w: %s", ErrUseCaseNotFound, useCase)
	}
	return c, nil
}

// SlideManifest returns the slide plan for a use case.
func (r *Registry) SlideManifest(useCase string) (SlideManifest, error) {
	s, ok := r.slides[useCase]
	if !ok {
		return SlideManifest{}, fmt.Errorf("%w: %s", ErrUseCaseNotFound, useCase)
	}
	return s, nil
}

// UseCases returns the sorted list of known use cases, for logging and the
// validation error on job submission.
func (r *Registry) UseCases() []string {
	out := make([]string, 0, len(r.meta))
	for k := range r.meta {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// validate cross-checks the three manifests: every use case with a view
// catalog must have a workbook mapping, enum tokens must be known, and
// slide data bindings must reference declared view keys.
func (r *Registry) validate() error {
	for uc, cat := range r.catalogs {
		if _, ok := r.meta[uc]; !ok {
			return fmt.Errorf("%w: use case %s has views but no workbook mapping", ErrInvalidManifest, uc)
		}
		viewKeys := make(map[string]bool, len(cat.Views))
		for _, v := range cat.Views {
			if v.Key == "" || v.Name == "" {
				return fmt.Errorf("%w: use case %s has a view without key or name", ErrInvalidManifest, uc)
			}
			if v.Type != ViewTypeFlagCard && v.Type != ViewTypeTable {
				return fmt.Errorf("%w: view %s/%s has unknown type %q", ErrInvalidManifest, uc, v.Key, v.Type)
			}
			if viewKeys[v.Key] {
				return fmt.Errorf("%w: duplicate view key %s/%s", ErrInvalidManifest, uc, v.Key)
			}
			viewKeys[v.Key] = true
			for _, c := range v.Columns {
				switch c.Format {
				case FormatCurrency, FormatNumber, FormatDecimal, FormatPercentage, FormatString:
				default:
					return fmt.Errorf("%w: view %s/%s column %s has unknown format %q",
						ErrInvalidManifest, uc, v.Key, c.FieldKey, c.Format)
				}
			}
			for _, fk := range v.FilterKeys {
				if _, ok := cat.FilterBindings[fk]; !ok {
					return fmt.Errorf("%w: view %s/%s declares filter %s with no binding",
						ErrInvalidManifest, uc, v.Key, fk)
				}
			}
		}

		if sm, ok := r.slides[uc]; ok {
			for i, slide := range sm.Slides {
				for j, el := range slide.Elements {
					if err := validateElement(el, viewKeys); err != nil {
						return fmt.Errorf("%w: use case %s slide %d element %d: %v",
							ErrInvalidManifest, uc, i, j, err)
					}
				}
			}
		}
	}
	return nil
}

func validateElement(el ElementSpec, viewKeys map[string]bool) error {
	switch el.Type {
	case ElementImage:
		if el.Path == "" {
			return errors.New("IMAGE element without path")
		}
	case ElementShape:
		switch el.Shape {
		case "LINE", "RECTANGLE", "CIRCLE":
		default:
			return fmt.Errorf("unknown shape kind %q", el.Shape)
		}
	case ElementText:
		// A TEXT element may be a literal, a binding, or segments; an
		// entirely empty one is an authoring mistake.
		if el.Text == "" && el.ValueKey == "" && len(el.Segments) == 0 {
			return errors.New("TEXT element with no content")
		}
		if el.ValueKey != "" && !viewKeys[el.ValueKey] {
			return fmt.Errorf("valueKey %q does not name a declared view", el.ValueKey)
		}
		for _, seg := range el.Segments {
			if seg.ValueKey != "" && !viewKeys[seg.ValueKey] {
				return fmt.Errorf("segment valueKey %q does not name a declared view", seg.ValueKey)
			}
		}
	case ElementTable, ElementChart:
		if el.DataKey == "" {
			return fmt.Errorf("%s element without dataKey", el.Type)
		}
		if !viewKeys[el.DataKey] {
			return fmt.Errorf("dataKey %q does not name a declared view", el.DataKey)
		}
		if el.Type == ElementChart {
			if el.Chart == nil {
				return errors.New("CHART element without chart options")
			}
			switch el.Chart.Kind {
			case "BAR", "LINE", "PIE", "BAR_LINE":
			default:
				return fmt.Errorf("unknown chart kind %q", el.Chart.Kind)
			}
		}
	default:
		return fmt.Errorf("unknown element type %q", el.Type)
	}
	return nil
}
