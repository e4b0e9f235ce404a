package db_migrator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Column описывает колонку таблицы.
type Column struct {
	Name       string `yaml:"name" json:"name"`
	Type       string `yaml:"type" json:"type"`
	Nullable   bool   `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Default    string `yaml:"default,omitempty" json:"default,omitempty"`
	PrimaryKey bool   `yaml:"primary_key,omitempty" json:"primary_key,omitempty"`
}

// Index описывает индекс таблицы.
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// Table - таблица схемы. Порядок колонок сохраняется.
type Table struct {
	Name        string
	Columns     []Column
	Indexes     map[string]Index
	Constraints map[string]string
}

// Schema - снимок схемы базы данных: декларированный (полученный проигрыванием ревизий)
// или живой (полученный интроспекцией).
type Schema struct {
	Tables map[string]*Table
	Enums  map[string][]string

	// Constraints == false означает, что снимок не содержит сведений об ограничениях
	// и сравнение ограничений пропускается.
	Constraints bool
}

func NewSchema() *Schema {
	return &Schema{
		Tables:      make(map[string]*Table),
		Enums:       make(map[string][]string),
		Constraints: true,
	}
}

func newTable(name string) *Table {
	return &Table{
		Name:        name,
		Indexes:     make(map[string]Index),
		Constraints: make(map[string]string),
	}
}

// Clone возвращает глубокую копию схемы.
func (s *Schema) Clone() *Schema {
	c := &Schema{
		Tables:      make(map[string]*Table, len(s.Tables)),
		Enums:       make(map[string][]string, len(s.Enums)),
		Constraints: s.Constraints,
	}
	for name, t := range s.Tables {
		ct := newTable(t.Name)
		ct.Columns = append([]Column(nil), t.Columns...)
		for n, idx := range t.Indexes {
			idx.Columns = append([]string(nil), idx.Columns...)
			ct.Indexes[n] = idx
		}
		for n, def := range t.Constraints {
			ct.Constraints[n] = def
		}
		c.Tables[name] = ct
	}
	for name, values := range s.Enums {
		c.Enums[name] = append([]string(nil), values...)
	}
	return c
}

// Equal сообщает, совпадают ли две схемы с точностью до нормализации типов.
func (s *Schema) Equal(other *Schema) bool {
	return len(compareSchemas(s, other)) == 0 && len(compareSchemas(other, s)) == 0
}

// TableNames возвращает отсортированные имена таблиц.
func (s *Schema) TableNames() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddTable добавляет таблицу в снимок; используется при интроспекции.
func (s *Schema) AddTable(name string, columns ...Column) *Table {
	t, ok := s.Tables[name]
	if !ok {
		t = newTable(name)
		s.Tables[name] = t
	}
	t.Columns = append(t.Columns, columns...)
	return t
}

func (t *Table) column(name string) (int, bool) {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return i, true
		}
	}
	return -1, false
}

func (s *Schema) mustTable(name string) (*Table, error) {
	t, ok := s.Tables[name]
	if !ok {
		return nil, fmt.Errorf("table %q does not exist", name)
	}
	return t, nil
}

func (s *Schema) findIndex(name string) (*Table, Index, bool) {
	for _, t := range s.Tables {
		if idx, ok := t.Indexes[name]; ok {
			return t, idx, true
		}
	}
	return nil, Index{}, false
}

func (s *Schema) createTable(name string, columns []Column) error {
	if _, ok := s.Tables[name]; ok {
		return fmt.Errorf("table %q already exists", name)
	}
	t := newTable(name)
	for _, col := range columns {
		if _, exists := t.column(col.Name); exists {
			return fmt.Errorf("table %q declares column %q twice", name, col.Name)
		}
		t.Columns = append(t.Columns, declaredColumn(col))
	}
	s.Tables[name] = t
	return nil
}

func (s *Schema) dropTable(name string) error {
	if _, err := s.mustTable(name); err != nil {
		return err
	}
	delete(s.Tables, name)
	return nil
}

func (s *Schema) addColumn(table string, col Column) error {
	t, err := s.mustTable(table)
	if err != nil {
		return err
	}
	if _, exists := t.column(col.Name); exists {
		return fmt.Errorf("column %q.%q already exists", table, col.Name)
	}
	t.Columns = append(t.Columns, declaredColumn(col))
	return nil
}

func (s *Schema) dropColumn(table, column string) error {
	t, err := s.mustTable(table)
	if err != nil {
		return err
	}
	i, ok := t.column(column)
	if !ok {
		return fmt.Errorf("column %q.%q does not exist", table, column)
	}
	t.Columns = append(t.Columns[:i:i], t.Columns[i+1:]...)

	// как и PostgreSQL, удаляем индексы, построенные по удаленной колонке
	for name, idx := range t.Indexes {
		for _, c := range idx.Columns {
			if c == column {
				delete(t.Indexes, name)
				break
			}
		}
	}
	return nil
}

func (s *Schema) renameColumn(table, from, to string) error {
	t, err := s.mustTable(table)
	if err != nil {
		return err
	}
	i, ok := t.column(from)
	if !ok {
		return fmt.Errorf("column %q.%q does not exist", table, from)
	}
	if _, exists := t.column(to); exists {
		return fmt.Errorf("column %q.%q already exists", table, to)
	}
	t.Columns[i].Name = to
	for name, idx := range t.Indexes {
		cols := append([]string(nil), idx.Columns...)
		for j := range cols {
			if cols[j] == from {
				cols[j] = to
			}
		}
		idx.Columns = cols
		t.Indexes[name] = idx
	}
	return nil
}

func (s *Schema) createEnum(name string, values []string) error {
	if _, ok := s.Enums[name]; ok {
		return fmt.Errorf("enum %q already exists", name)
	}
	seen := make(map[string]bool, len(values))
	for _, v := range values {
		if seen[v] {
			return fmt.Errorf("enum %q declares value %q twice", name, v)
		}
		seen[v] = true
	}
	s.Enums[name] = append([]string(nil), values...)
	return nil
}

func (s *Schema) dropEnum(name string) error {
	if _, ok := s.Enums[name]; !ok {
		return fmt.Errorf("enum %q does not exist", name)
	}
	for _, t := range s.Tables {
		for _, col := range t.Columns {
			if strings.EqualFold(col.Type, name) {
				return fmt.Errorf("enum %q is still used by column %q.%q", name, t.Name, col.Name)
			}
		}
	}
	delete(s.Enums, name)
	return nil
}

func (s *Schema) addEnumValue(name, value string) error {
	values, ok := s.Enums[name]
	if !ok {
		return fmt.Errorf("enum %q does not exist", name)
	}
	for _, v := range values {
		if v == value {
			return fmt.Errorf("enum %q already has value %q", name, value)
		}
	}
	s.Enums[name] = append(values, value)
	return nil
}

func (s *Schema) renameEnumValue(name, from, to string) error {
	values, ok := s.Enums[name]
	if !ok {
		return fmt.Errorf("enum %q does not exist", name)
	}
	pos := -1
	for i, v := range values {
		if v == to {
			return fmt.Errorf("enum %q already has value %q", name, to)
		}
		if v == from {
			pos = i
		}
	}
	if pos < 0 {
		return fmt.Errorf("enum %q has no value %q", name, from)
	}
	values[pos] = to
	return nil
}

func (s *Schema) createIndex(idx Index) error {
	t, err := s.mustTable(idx.Table)
	if err != nil {
		return err
	}
	if _, _, exists := s.findIndex(idx.Name); exists {
		return fmt.Errorf("index %q already exists", idx.Name)
	}
	if len(idx.Columns) == 0 {
		return fmt.Errorf("index %q has no columns", idx.Name)
	}
	for _, c := range idx.Columns {
		if _, ok := t.column(c); !ok {
			return fmt.Errorf("index %q references unknown column %q.%q", idx.Name, idx.Table, c)
		}
	}
	idx.Columns = append([]string(nil), idx.Columns...)
	t.Indexes[idx.Name] = idx
	return nil
}

func (s *Schema) dropIndex(name string) error {
	t, _, ok := s.findIndex(name)
	if !ok {
		return fmt.Errorf("index %q does not exist", name)
	}
	delete(t.Indexes, name)
	return nil
}

func (s *Schema) addConstraint(table, name, definition string) error {
	t, err := s.mustTable(table)
	if err != nil {
		return err
	}
	if _, ok := t.Constraints[name]; ok {
		return fmt.Errorf("constraint %q on %q already exists", name, table)
	}
	t.Constraints[name] = definition
	return nil
}

func (s *Schema) dropConstraint(table, name string) error {
	t, err := s.mustTable(table)
	if err != nil {
		return err
	}
	if _, ok := t.Constraints[name]; !ok {
		return fmt.Errorf("constraint %q on %q does not exist", name, table)
	}
	delete(t.Constraints, name)
	return nil
}

// declaredColumn приводит колонку к виду, в котором ее вернет интроспекция:
// колонки первичного ключа всегда NOT NULL.
func declaredColumn(col Column) Column {
	if col.PrimaryKey {
		col.Nullable = false
	}
	return col
}

var (
	typeParamsRe = regexp.MustCompile(`\s*\([^)]*\)`)
	spacesRe     = regexp.MustCompile(`\s+`)
)

var typeAliases = map[string]string{
	"int":         "integer",
	"int4":        "integer",
	"serial":      "integer",
	"serial4":     "integer",
	"int8":        "bigint",
	"bigserial":   "bigint",
	"serial8":     "bigint",
	"int2":        "smallint",
	"smallserial": "smallint",
	"bool":        "boolean",
	"varchar":     "character varying",
	"char":        "character",
	"bpchar":      "character",
	"float8":      "double precision",
	"double":      "double precision",
	"float4":      "real",
	"float":       "double precision",
	"decimal":     "numeric",
	"timestamp":   "timestamp without time zone",
	"timestamptz": "timestamp with time zone",
	"time":        "time without time zone",
	"timetz":      "time with time zone",
}

// NormalizeType приводит имя типа к каноническому виду для сравнения:
// нижний регистр, без параметров длины/точности, с раскрытыми синонимами.
func NormalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = typeParamsRe.ReplaceAllString(t, "")
	t = spacesRe.ReplaceAllString(t, " ")
	t = strings.Trim(t, `"`)
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}
