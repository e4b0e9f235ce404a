package db_migrator

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

type DriftKind string

const (
	DriftMissingTable      DriftKind = "missing_table"
	DriftExtraTable        DriftKind = "extra_table"
	DriftMissingColumn     DriftKind = "missing_column"
	DriftExtraColumn       DriftKind = "extra_column"
	DriftColumnType        DriftKind = "column_type"
	DriftColumnNullability DriftKind = "column_nullability"
	DriftMissingEnum       DriftKind = "missing_enum"
	DriftExtraEnum         DriftKind = "extra_enum"
	DriftEnumValues        DriftKind = "enum_values"
	DriftMissingIndex      DriftKind = "missing_index"
	DriftExtraIndex        DriftKind = "extra_index"
	DriftIndexDefinition   DriftKind = "index_definition"
	DriftMissingConstraint DriftKind = "missing_constraint"
	DriftExtraConstraint   DriftKind = "extra_constraint"
)

// Discrepancy - одно расхождение между декларированной и живой схемой.
// Missing означает "объявлено, но в базе нет", Extra - "есть в базе, но не объявлено".
type Discrepancy struct {
	Kind     DriftKind `json:"kind"`
	Object   string    `json:"object"`
	Expected string    `json:"expected,omitempty"`
	Actual   string    `json:"actual,omitempty"`
}

func (d Discrepancy) String() string {
	if d.Expected == "" && d.Actual == "" {
		return fmt.Sprintf("%s %s", d.Kind, d.Object)
	}
	return fmt.Sprintf("%s %s: expected %s, got %s", d.Kind, d.Object, orNone(d.Expected), orNone(d.Actual))
}

func orNone(s string) string {
	if s == "" {
		return "<none>"
	}
	return s
}

// DriftReport - результат сравнения живой схемы с состоянием, которое описывают примененные ревизии.
type DriftReport struct {
	Applied       []string
	Discrepancies []Discrepancy
}

func (r *DriftReport) HasDrift() bool {
	return len(r.Discrepancies) > 0
}

// Err возвращает *DriftDetectedError, если найдены расхождения, иначе nil.
func (r *DriftReport) Err() error {
	if !r.HasDrift() {
		return nil
	}
	return &DriftDetectedError{Applied: r.Applied, Discrepancies: r.Discrepancies}
}

// DriftDetector строит декларированную схему из примененных ревизий и сравнивает ее с живой.
// Расхождения только сообщаются, автоматически ничего не исправляется.
type DriftDetector struct {
	graph   *Graph
	applied []string
}

func NewDriftDetector(graph *Graph, applied []string) *DriftDetector {
	return &DriftDetector{
		graph:   graph,
		applied: append([]string(nil), applied...),
	}
}

// Declared проигрывает операции upgrade всех примененных ревизий в порядке линеаризации на пустой схеме.
func (d *DriftDetector) Declared() (*Schema, error) {
	for _, id := range d.applied {
		if _, ok := d.graph.Revision(id); !ok {
			return nil, fmt.Errorf("applied revision %q: %w", id, ErrUnknownRevision)
		}
	}

	order, err := d.graph.Linearize(d.graph.Ancestors(d.applied...))
	if err != nil {
		return nil, err
	}

	schema := NewSchema()
	for _, revision := range order {
		schema, err = ApplyOperations(schema, revision.Upgrade...)
		if err != nil {
			return nil, fmt.Errorf("replay revision %q: %w", revision.ID, err)
		}
	}
	return schema, nil
}

// Detect возвращает отсортированный список расхождений.
func (d *DriftDetector) Detect(live *Schema) ([]Discrepancy, error) {
	declared, err := d.Declared()
	if err != nil {
		return nil, err
	}
	return compareSchemas(declared, live), nil
}

// Report оборачивает Detect в DriftReport.
func (d *DriftDetector) Report(live *Schema) (*DriftReport, error) {
	discrepancies, err := d.Detect(live)
	if err != nil {
		return nil, err
	}
	return &DriftReport{Applied: d.applied, Discrepancies: discrepancies}, nil
}

func compareSchemas(declared, live *Schema) []Discrepancy {
	var out []Discrepancy
	constraints := declared.Constraints && live.Constraints

	for _, name := range declared.TableNames() {
		want := declared.Tables[name]
		got, ok := live.Tables[name]
		if !ok {
			out = append(out, Discrepancy{Kind: DriftMissingTable, Object: name})
			continue
		}
		out = append(out, compareTables(want, got, constraints)...)
	}
	for _, name := range live.TableNames() {
		if _, ok := declared.Tables[name]; !ok {
			out = append(out, Discrepancy{Kind: DriftExtraTable, Object: name})
		}
	}

	out = append(out, compareEnums(declared.Enums, live.Enums)...)

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Object != out[j].Object {
			return out[i].Object < out[j].Object
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func compareTables(want, got *Table, constraints bool) []Discrepancy {
	var out []Discrepancy

	for _, wc := range want.Columns {
		object := want.Name + "." + wc.Name
		i, ok := got.column(wc.Name)
		if !ok {
			out = append(out, Discrepancy{Kind: DriftMissingColumn, Object: object, Expected: wc.Type})
			continue
		}
		gc := got.Columns[i]
		if NormalizeType(wc.Type) != NormalizeType(gc.Type) {
			out = append(out, Discrepancy{
				Kind:     DriftColumnType,
				Object:   object,
				Expected: NormalizeType(wc.Type),
				Actual:   NormalizeType(gc.Type),
			})
		}
		if wc.Nullable != gc.Nullable {
			out = append(out, Discrepancy{
				Kind:     DriftColumnNullability,
				Object:   object,
				Expected: nullability(wc.Nullable),
				Actual:   nullability(gc.Nullable),
			})
		}
	}
	for _, gc := range got.Columns {
		if _, ok := want.column(gc.Name); !ok {
			out = append(out, Discrepancy{Kind: DriftExtraColumn, Object: want.Name + "." + gc.Name, Actual: gc.Type})
		}
	}

	for name, wi := range want.Indexes {
		gi, ok := got.Indexes[name]
		if !ok {
			out = append(out, Discrepancy{Kind: DriftMissingIndex, Object: name, Expected: indexDefinition(wi)})
			continue
		}
		if wi.Unique != gi.Unique || !slices.Equal(wi.Columns, gi.Columns) {
			out = append(out, Discrepancy{
				Kind:     DriftIndexDefinition,
				Object:   name,
				Expected: indexDefinition(wi),
				Actual:   indexDefinition(gi),
			})
		}
	}
	for name, gi := range got.Indexes {
		if _, ok := want.Indexes[name]; !ok {
			out = append(out, Discrepancy{Kind: DriftExtraIndex, Object: name, Actual: indexDefinition(gi)})
		}
	}

	if !constraints {
		return out
	}
	// определения ограничений база возвращает в своем формате, поэтому сравниваются только имена
	for name := range want.Constraints {
		if _, ok := got.Constraints[name]; !ok {
			out = append(out, Discrepancy{Kind: DriftMissingConstraint, Object: want.Name + "." + name})
		}
	}
	for name := range got.Constraints {
		if _, ok := want.Constraints[name]; !ok {
			out = append(out, Discrepancy{Kind: DriftExtraConstraint, Object: want.Name + "." + name})
		}
	}
	return out
}

func compareEnums(want, got map[string][]string) []Discrepancy {
	var out []Discrepancy
	for name, values := range want {
		live, ok := got[name]
		if !ok {
			out = append(out, Discrepancy{Kind: DriftMissingEnum, Object: name, Expected: strings.Join(values, ",")})
			continue
		}
		if !slices.Equal(values, live) {
			out = append(out, Discrepancy{
				Kind:     DriftEnumValues,
				Object:   name,
				Expected: strings.Join(values, ","),
				Actual:   strings.Join(live, ","),
			})
		}
	}
	for name, values := range got {
		if _, ok := want[name]; !ok {
			out = append(out, Discrepancy{Kind: DriftExtraEnum, Object: name, Actual: strings.Join(values, ",")})
		}
	}
	return out
}

func nullability(nullable bool) string {
	if nullable {
		return "null"
	}
	return "not null"
}

func indexDefinition(idx Index) string {
	def := idx.Table + "(" + strings.Join(idx.Columns, ", ") + ")"
	if idx.Unique {
		return "unique " + def
	}
	return def
}
