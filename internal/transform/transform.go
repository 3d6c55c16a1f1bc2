// Package transform turns raw CSV view payloads into typed view data,
// driven entirely by the declarative column schemas in the view catalog.
// Projection is by column name — the CSV layout may reorder or add columns
// without breaking the mapping. All entry points are pure with respect to
// their inputs; identical inputs produce identical outputs.
package transform

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/config"
	"github.com/pavan-kumar-miq/tableau-ppt-export/internal/tableau"
)

// Sentinel errors.
var (
	// ErrViewConfigMissing is returned when a view key has no entry in the
	// use case's catalog.
	ErrViewConfigMissing = errors.New("transform: view config missing")

	// ErrNoHeader is returned for payloads without a header row.
	ErrNoHeader = errors.New("transform: csv payload has no header row")
)

// Cell is one value with its field identity and display format.
type Cell struct {
	Field  string
	Value  string
	Format config.Format
}

// Header describes one table column in output order.
type Header struct {
	Field       string
	DisplayName string
	Format      config.Format
}

// FlagCard is a single-value view: one scalar with a label and format.
type FlagCard struct {
	Field  string
	Value  string
	Format config.Format
}

// Table is a tabular view. Every row has exactly len(Headers) cells.
type Table struct {
	Headers []Header
	Rows    [][]Cell
}

// ViewData is the tagged result of transforming one view. Exactly one of
// Flag or Table is set, matching Type.
type ViewData struct {
	Type  config.ViewType
	Flag  *FlagCard
	Table *Table
}

// Transformer binds the view catalog to the two transformation entry
// points. Stateless beyond its dependencies; safe for concurrent use.
type Transformer struct {
	registry *config.Registry
	logger   *zap.Logger
}

// New creates a Transformer.
func New(registry *config.Registry, logger *zap.Logger) *Transformer {
	return &Transformer{
		registry: registry,
		logger:   logger.Named("transform"),
	}
}

// BuildViewConfigs enumerates the views of a use case in catalog order,
// binding each declared filter key to its remote parameter name and the
// submitted value. Filter keys the job did not supply are omitted from
// the parameters; submitted filters with no configured binding are
// ignored with a warning.
func (t *Transformer) BuildViewConfigs(useCase string, filters map[string]string) ([]tableau.ViewRequest, error) {
	catalog, err := t.registry.ViewCatalog(useCase)
	if err != nil {
		return nil, err
	}

	for key := range filters {
		if _, ok := catalog.FilterBindings[key]; !ok {
			t.logger.Warn("submitted filter has no configured binding, ignoring",
				zap.String("use_case", useCase),
				zap.String("filter_key", key),
			)
		}
	}

	requests := make([]tableau.ViewRequest, 0, len(catalog.Views))
	for _, view := range catalog.Views {
		params := make(map[string]string)
		for _, fk := range view.FilterKeys {
			value, ok := filters[fk]
			if !ok {
				continue
			}
			params[catalog.FilterBindings[fk]] = value
		}
		requests = append(requests, tableau.ViewRequest{
			ViewKey:      view.Key,
			ViewName:     view.Name,
			FilterParams: params,
		})
	}
	return requests, nil
}

// Transform shapes one CSV payload into the typed view data for viewKey.
// Missing columns are skipped with a warning, not fatal. Returns
// (nil, nil) when the payload has a header but no usable data rows.
func (t *Transformer) Transform(useCase, viewKey, payload string) (*ViewData, error) {
	view, err := t.findView(useCase, viewKey)
	if err != nil {
		return nil, err
	}

	header, records, err := parseCSV(payload)
	if err != nil {
		return nil, err
	}

	// Resolve the CSV column index for every needed schema column.
	colIndex := make(map[string]int, len(header))
	for i, name := range header {
		colIndex[strings.TrimSpace(name)] = i
	}

	type binding struct {
		schema config.ColumnSchema
		index  int
	}
	bindings := make([]binding, 0, len(view.Columns))
	for _, col := range view.Columns {
		if !col.IsNeededForView {
			continue
		}
		idx, ok := colIndex[col.ColumnName]
		if !ok {
			t.logger.Warn("schema column not present in csv, skipping",
				zap.String("use_case", useCase),
				zap.String("view_key", viewKey),
				zap.String("column", col.ColumnName),
			)
			continue
		}
		bindings = append(bindings, binding{schema: col, index: idx})
	}
	if len(bindings) == 0 {
		return nil, fmt.Errorf("transform: %s/%s: no schema column matches the csv header", useCase, viewKey)
	}

	var rows [][]Cell
	for _, record := range records {
		row := make([]Cell, len(bindings))
		empty := true
		for i, b := range bindings {
			value := ""
			if b.index < len(record) {
				value = normalize(record[b.index], b.schema.Format)
			}
			if value != "" {
				empty = false
			}
			row[i] = Cell{Field: b.schema.FieldKey, Value: value, Format: b.schema.Format}
		}
		if empty {
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	switch view.Type {
	case config.ViewTypeFlagCard:
		first := rows[0][0]
		return &ViewData{
			Type: config.ViewTypeFlagCard,
			Flag: &FlagCard{Field: first.Field, Value: first.Value, Format: first.Format},
		}, nil

	default: // config.ViewTypeTable — the registry admits nothing else.
		headers := make([]Header, len(bindings))
		for i, b := range bindings {
			headers[i] = Header{
				Field:       b.schema.FieldKey,
				DisplayName: b.schema.DisplayName,
				Format:      b.schema.Format,
			}
		}
		return &ViewData{
			Type:  config.ViewTypeTable,
			Table: &Table{Headers: headers, Rows: rows},
		}, nil
	}
}

// TransformAll shapes every fetched payload. Individual failures are
// logged and excluded; the result may be empty, which the orchestrator
// treats as fatal when the input was not.
func (t *Transformer) TransformAll(useCase string, raw map[string]string) map[string]*ViewData {
	out := make(map[string]*ViewData, len(raw))
	for viewKey, payload := range raw {
		data, err := t.Transform(useCase, viewKey, payload)
		if err != nil {
			t.logger.Warn("view transformation failed, excluding from result",
				zap.String("use_case", useCase),
				zap.String("view_key", viewKey),
				zap.Error(err),
			)
			continue
		}
		if data == nil {
			t.logger.Warn("view payload produced no rows, excluding from result",
				zap.String("use_case", useCase),
				zap.String("view_key", viewKey),
			)
			continue
		}
		out[viewKey] = data
	}
	return out
}

func (t *Transformer) findView(useCase, viewKey string) (config.ViewConfig, error) {
	catalog, err := t.registry.ViewCatalog(useCase)
	if err != nil {
		return config.ViewConfig{}, err
	}
	for _, v := range catalog.Views {
		if v.Key == viewKey {
			return v, nil
		}
	}
	return config.ViewConfig{}, fmt.Errorf("%w: %s/%s", ErrViewConfigMissing, useCase, viewKey)
}

// parseCSV reads an RFC 4180 payload: quoted fields may contain commas,
// newlines and doubled quotes. The first non-empty record is the header.
func parseCSV(payload string) (header []string, records [][]string, err error) {
	r := csv.NewReader(strings.NewReader(payload))
	r.FieldsPerRecord = -1

	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("transform: csv parse: %w", err)
		}
		if header == nil {
			header = record
			continue
		}
		records = append(records, record)
	}
	if header == nil {
		return nil, nil, ErrNoHeader
	}
	return header, records, nil
}

// normalize prepares a raw cell for downstream numeric parsing: numeric
// formats lose their comma grouping, strings are trimmed as-is. Absent
// cells have already become empty strings in the caller.
func normalize(value string, format config.Format) string {
	value = strings.TrimSpace(value)
	if format.Numeric() {
		value = strings.ReplaceAll(value, ",", "")
	}
	return value
}
