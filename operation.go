package db_migrator

import (
	"fmt"
	"strings"
)

type OpKind string

const (
	OpCreateTable     OpKind = "create_table"
	OpDropTable       OpKind = "drop_table"
	OpAddColumn       OpKind = "add_column"
	OpDropColumn      OpKind = "drop_column"
	OpRenameColumn    OpKind = "rename_column"
	OpCreateEnum      OpKind = "create_enum"
	OpDropEnum        OpKind = "drop_enum"
	OpAddEnumValue    OpKind = "add_enum_value"
	OpRenameEnumValue OpKind = "rename_enum_value"
	OpCreateIndex     OpKind = "create_index"
	OpDropIndex       OpKind = "drop_index"
	OpAddConstraint   OpKind = "add_constraint"
	OpDropConstraint  OpKind = "drop_constraint"
	OpSQL             OpKind = "sql"
)

// Operation - атомарное изменение схемы. Набор реализаций закрыт: интерфейс содержит
// неэкспортируемый метод, поэтому новые виды операций добавляются только в этом пакете.
type Operation interface {
	Kind() OpKind
	// Inverse возвращает операции, отменяющие текущую, в порядке выполнения, или ErrNoInverse.
	Inverse() ([]Operation, error)
	// applyTo проигрывает операцию на снимке схемы.
	applyTo(s *Schema) error
}

type CreateTable struct {
	Table   string   `yaml:"table" json:"table"`
	Columns []Column `yaml:"columns" json:"columns"`
}

func (o CreateTable) Kind() OpKind { return OpCreateTable }

func (o CreateTable) Inverse() ([]Operation, error) {
	return []Operation{DropTable{Table: o.Table, Columns: o.Columns}}, nil
}

func (o CreateTable) applyTo(s *Schema) error { return s.createTable(o.Table, o.Columns) }

// TableIndex - индекс в составе удаляемого объекта.
type TableIndex struct {
	Name    string   `yaml:"name" json:"name"`
	Columns []string `yaml:"columns" json:"columns"`
	Unique  bool     `yaml:"unique,omitempty" json:"unique,omitempty"`
}

// TableConstraint - ограничение в составе удаляемой таблицы.
type TableConstraint struct {
	Name       string `yaml:"name" json:"name"`
	Definition string `yaml:"definition" json:"definition"`
}

// DropTable удаляет таблицу вместе с ее индексами и ограничениями.
// Columns, Indexes и Constraints нужны только для построения обратных операций.
type DropTable struct {
	Table       string            `yaml:"table" json:"table"`
	Columns     []Column          `yaml:"columns,omitempty" json:"columns,omitempty"`
	Indexes     []TableIndex      `yaml:"indexes,omitempty" json:"indexes,omitempty"`
	Constraints []TableConstraint `yaml:"constraints,omitempty" json:"constraints,omitempty"`
}

func (o DropTable) Kind() OpKind { return OpDropTable }

func (o DropTable) Inverse() ([]Operation, error) {
	if len(o.Columns) == 0 {
		return nil, fmt.Errorf("%s %q without column definitions: %w", o.Kind(), o.Table, ErrNoInverse)
	}
	ops := []Operation{CreateTable{Table: o.Table, Columns: o.Columns}}
	ops = append(ops, recreateIndexes(o.Table, o.Indexes)...)
	for _, c := range o.Constraints {
		ops = append(ops, AddConstraint{Table: o.Table, Name: c.Name, Definition: c.Definition})
	}
	return ops, nil
}

func (o DropTable) applyTo(s *Schema) error { return s.dropTable(o.Table) }

type AddColumn struct {
	Table  string `yaml:"table" json:"table"`
	Column Column `yaml:"column" json:"column"`
}

func (o AddColumn) Kind() OpKind { return OpAddColumn }

func (o AddColumn) Inverse() ([]Operation, error) {
	return []Operation{DropColumn{Table: o.Table, Column: o.Column}}, nil
}

func (o AddColumn) applyTo(s *Schema) error { return s.addColumn(o.Table, o.Column) }

// DropColumn удаляет колонку вместе с индексами, в которые она входит.
// Тип колонки и Indexes нужны только для построения обратных операций.
type DropColumn struct {
	Table   string       `yaml:"table" json:"table"`
	Column  Column       `yaml:"column" json:"column"`
	Indexes []TableIndex `yaml:"indexes,omitempty" json:"indexes,omitempty"`
}

func (o DropColumn) Kind() OpKind { return OpDropColumn }

func (o DropColumn) Inverse() ([]Operation, error) {
	if o.Column.Type == "" {
		return nil, fmt.Errorf("%s %q.%q without column type: %w", o.Kind(), o.Table, o.Column.Name, ErrNoInverse)
	}
	ops := []Operation{AddColumn{Table: o.Table, Column: o.Column}}
	return append(ops, recreateIndexes(o.Table, o.Indexes)...), nil
}

func recreateIndexes(table string, indexes []TableIndex) []Operation {
	ops := make([]Operation, 0, len(indexes))
	for _, idx := range indexes {
		ops = append(ops, CreateIndex{Name: idx.Name, Table: table, Columns: idx.Columns, Unique: idx.Unique})
	}
	return ops
}

func (o DropColumn) applyTo(s *Schema) error { return s.dropColumn(o.Table, o.Column.Name) }

type RenameColumn struct {
	Table string `yaml:"table" json:"table"`
	From  string `yaml:"from" json:"from"`
	To    string `yaml:"to" json:"to"`
}

func (o RenameColumn) Kind() OpKind { return OpRenameColumn }

func (o RenameColumn) Inverse() ([]Operation, error) {
	return []Operation{RenameColumn{Table: o.Table, From: o.To, To: o.From}}, nil
}

func (o RenameColumn) applyTo(s *Schema) error { return s.renameColumn(o.Table, o.From, o.To) }

type CreateEnum struct {
	Name   string   `yaml:"name" json:"name"`
	Values []string `yaml:"values" json:"values"`
}

func (o CreateEnum) Kind() OpKind { return OpCreateEnum }

func (o CreateEnum) Inverse() ([]Operation, error) {
	return []Operation{DropEnum{Name: o.Name, Values: o.Values}}, nil
}

func (o CreateEnum) applyTo(s *Schema) error { return s.createEnum(o.Name, o.Values) }

type DropEnum struct {
	Name   string   `yaml:"name" json:"name"`
	Values []string `yaml:"values,omitempty" json:"values,omitempty"`
}

func (o DropEnum) Kind() OpKind { return OpDropEnum }

func (o DropEnum) Inverse() ([]Operation, error) {
	if len(o.Values) == 0 {
		return nil, fmt.Errorf("%s %q without values: %w", o.Kind(), o.Name, ErrNoInverse)
	}
	return []Operation{CreateEnum{Name: o.Name, Values: o.Values}}, nil
}

func (o DropEnum) applyTo(s *Schema) error { return s.dropEnum(o.Name) }

// AddEnumValue добавляет значение в enum. Удалить значение из enum PostgreSQL не умеет,
// поэтому обратной операции нет.
type AddEnumValue struct {
	Enum  string `yaml:"enum" json:"enum"`
	Value string `yaml:"value" json:"value"`
}

func (o AddEnumValue) Kind() OpKind { return OpAddEnumValue }

func (o AddEnumValue) Inverse() ([]Operation, error) {
	return nil, fmt.Errorf("%s %q.%q: enum values cannot be removed: %w", o.Kind(), o.Enum, o.Value, ErrNoInverse)
}

func (o AddEnumValue) applyTo(s *Schema) error { return s.addEnumValue(o.Enum, o.Value) }

type RenameEnumValue struct {
	Enum string `yaml:"enum" json:"enum"`
	From string `yaml:"from" json:"from"`
	To   string `yaml:"to" json:"to"`
}

func (o RenameEnumValue) Kind() OpKind { return OpRenameEnumValue }

func (o RenameEnumValue) Inverse() ([]Operation, error) {
	return []Operation{RenameEnumValue{Enum: o.Enum, From: o.To, To: o.From}}, nil
}

func (o RenameEnumValue) applyTo(s *Schema) error { return s.renameEnumValue(o.Enum, o.From, o.To) }

type CreateIndex struct {
	Name    string   `yaml:"name" json:"name"`
	Table   string   `yaml:"table" json:"table"`
	Columns []string `yaml:"columns" json:"columns"`
	Unique  bool     `yaml:"unique,omitempty" json:"unique,omitempty"`
}

func (o CreateIndex) Kind() OpKind { return OpCreateIndex }

func (o CreateIndex) Inverse() ([]Operation, error) {
	return []Operation{DropIndex(o)}, nil
}

func (o CreateIndex) applyTo(s *Schema) error {
	return s.createIndex(Index{Name: o.Name, Table: o.Table, Columns: o.Columns, Unique: o.Unique})
}

// DropIndex удаляет индекс. Table и Columns нужны только для построения обратной операции.
type DropIndex struct {
	Name    string   `yaml:"name" json:"name"`
	Table   string   `yaml:"table,omitempty" json:"table,omitempty"`
	Columns []string `yaml:"columns,omitempty" json:"columns,omitempty"`
	Unique  bool     `yaml:"unique,omitempty" json:"unique,omitempty"`
}

func (o DropIndex) Kind() OpKind { return OpDropIndex }

func (o DropIndex) Inverse() ([]Operation, error) {
	if o.Table == "" || len(o.Columns) == 0 {
		return nil, fmt.Errorf("%s %q without index definition: %w", o.Kind(), o.Name, ErrNoInverse)
	}
	return []Operation{CreateIndex(o)}, nil
}

func (o DropIndex) applyTo(s *Schema) error { return s.dropIndex(o.Name) }

type AddConstraint struct {
	Table      string `yaml:"table" json:"table"`
	Name       string `yaml:"name" json:"name"`
	Definition string `yaml:"definition" json:"definition"`
}

func (o AddConstraint) Kind() OpKind { return OpAddConstraint }

func (o AddConstraint) Inverse() ([]Operation, error) {
	return []Operation{DropConstraint(o)}, nil
}

func (o AddConstraint) applyTo(s *Schema) error { return s.addConstraint(o.Table, o.Name, o.Definition) }

type DropConstraint struct {
	Table      string `yaml:"table" json:"table"`
	Name       string `yaml:"name" json:"name"`
	Definition string `yaml:"definition,omitempty" json:"definition,omitempty"`
}

func (o DropConstraint) Kind() OpKind { return OpDropConstraint }

func (o DropConstraint) Inverse() ([]Operation, error) {
	if o.Definition == "" {
		return nil, fmt.Errorf("%s %q on %q without definition: %w", o.Kind(), o.Name, o.Table, ErrNoInverse)
	}
	return []Operation{AddConstraint(o)}, nil
}

func (o DropConstraint) applyTo(s *Schema) error { return s.dropConstraint(o.Table, o.Name) }

// SQL - произвольный SQL (исправление данных, backfill). На декларированную схему не влияет.
// Обратная операция существует, только если задан Reverse.
type SQL struct {
	SQL     string `yaml:"sql" json:"sql"`
	Reverse string `yaml:"reverse,omitempty" json:"reverse,omitempty"`
}

func (o SQL) Kind() OpKind { return OpSQL }

func (o SQL) Inverse() ([]Operation, error) {
	if o.Reverse == "" {
		return nil, fmt.Errorf("%s without reverse statement: %w", o.Kind(), ErrNoInverse)
	}
	return []Operation{SQL{SQL: o.Reverse, Reverse: o.SQL}}, nil
}

func (o SQL) applyTo(*Schema) error { return nil }

// ApplyOperations проигрывает операции на копии схемы и возвращает результат.
func ApplyOperations(s *Schema, ops ...Operation) (*Schema, error) {
	out := s.Clone()
	for i, op := range ops {
		if err := op.applyTo(out); err != nil {
			return nil, fmt.Errorf("operation %d (%s): %w", i+1, op.Kind(), err)
		}
	}
	return out, nil
}

// checkOperation проверяет обязательные параметры операции.
func checkOperation(op Operation) error {
	var missing []string
	need := func(field string, ok bool) {
		if !ok {
			missing = append(missing, field)
		}
	}

	switch o := op.(type) {
	case CreateTable:
		need("table", o.Table != "")
		need("columns", len(o.Columns) > 0)
		for i, c := range o.Columns {
			need(fmt.Sprintf("columns[%d].name", i), c.Name != "")
			need(fmt.Sprintf("columns[%d].type", i), c.Type != "")
		}
	case DropTable:
		need("table", o.Table != "")
		for i, idx := range o.Indexes {
			need(fmt.Sprintf("indexes[%d].name", i), idx.Name != "")
			need(fmt.Sprintf("indexes[%d].columns", i), len(idx.Columns) > 0)
		}
		for i, c := range o.Constraints {
			need(fmt.Sprintf("constraints[%d].name", i), c.Name != "")
			need(fmt.Sprintf("constraints[%d].definition", i), c.Definition != "")
		}
	case AddColumn:
		need("table", o.Table != "")
		need("column.name", o.Column.Name != "")
		need("column.type", o.Column.Type != "")
	case DropColumn:
		need("table", o.Table != "")
		need("column.name", o.Column.Name != "")
		for i, idx := range o.Indexes {
			need(fmt.Sprintf("indexes[%d].name", i), idx.Name != "")
			need(fmt.Sprintf("indexes[%d].columns", i), len(idx.Columns) > 0)
		}
	case RenameColumn:
		need("table", o.Table != "")
		need("from", o.From != "")
		need("to", o.To != "")
	case CreateEnum:
		need("name", o.Name != "")
	case DropEnum:
		need("name", o.Name != "")
	case AddEnumValue:
		need("enum", o.Enum != "")
		need("value", o.Value != "")
	case RenameEnumValue:
		need("enum", o.Enum != "")
		need("from", o.From != "")
		need("to", o.To != "")
	case CreateIndex:
		need("name", o.Name != "")
		need("table", o.Table != "")
		need("columns", len(o.Columns) > 0)
	case DropIndex:
		need("name", o.Name != "")
	case AddConstraint:
		need("table", o.Table != "")
		need("name", o.Name != "")
		need("definition", o.Definition != "")
	case DropConstraint:
		need("table", o.Table != "")
		need("name", o.Name != "")
	case SQL:
		need("sql", strings.TrimSpace(o.SQL) != "")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%s requires %s", op.Kind(), strings.Join(missing, ", "))
	}
	return nil
}
