package db_migrator

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

type postgresDialect struct{}

func (postgresDialect) Name() string { return "postgres" }

func (postgresDialect) Render(op Operation) ([]string, error) {
	if statements, ok := renderCommon(op); ok {
		return statements, nil
	}

	switch o := op.(type) {
	case AddColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(o.Table), columnDefinition(o.Column, true))}, nil
	case CreateEnum:
		values := make([]string, len(o.Values))
		for i, v := range o.Values {
			values[i] = quoteLiteral(v)
		}
		return []string{fmt.Sprintf("CREATE TYPE %s AS ENUM (%s)", quoteIdent(o.Name), strings.Join(values, ", "))}, nil
	case DropEnum:
		return []string{"DROP TYPE " + quoteIdent(o.Name)}, nil
	case AddEnumValue:
		return []string{fmt.Sprintf("ALTER TYPE %s ADD VALUE %s", quoteIdent(o.Enum), quoteLiteral(o.Value))}, nil
	case RenameEnumValue:
		return []string{fmt.Sprintf(
			"ALTER TYPE %s RENAME VALUE %s TO %s", quoteIdent(o.Enum), quoteLiteral(o.From), quoteLiteral(o.To),
		)}, nil
	case AddConstraint:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s ADD CONSTRAINT %s %s", quoteIdent(o.Table), quoteIdent(o.Name), o.Definition,
		)}, nil
	case DropConstraint:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP CONSTRAINT %s", quoteIdent(o.Table), quoteIdent(o.Name))}, nil
	}

	return nil, fmt.Errorf("%s on postgres: %w", op.Kind(), ErrUnsupportedOperation)
}

type pgColumnRow struct {
	TableName  string
	ColumnName string
	DataType   string
	UdtName    string
	IsNullable string
}

type pgEnumRow struct {
	Name  string
	Value string
}

type pgIndexRow struct {
	IndexName string
	TableName string
	IsUnique  bool
	Columns   string
}

type pgConstraintRow struct {
	TableName      string
	ConstraintName string
}

const (
	pgTablesQuery = `SELECT table_name FROM information_schema.tables
WHERE table_schema = current_schema() AND table_type = 'BASE TABLE'`

	pgColumnsQuery = `SELECT table_name, column_name, data_type, udt_name, is_nullable
FROM information_schema.columns
WHERE table_schema = current_schema()
ORDER BY table_name, ordinal_position`

	pgEnumsQuery = `SELECT t.typname AS name, e.enumlabel AS value
FROM pg_type t
JOIN pg_enum e ON e.enumtypid = t.oid
JOIN pg_namespace n ON n.oid = t.typnamespace
WHERE n.nspname = current_schema()
ORDER BY t.typname, e.enumsortorder`

	// индексы, созданные ограничениями (primary key, unique constraint), не учитываются
	pgIndexesQuery = `SELECT i.relname AS index_name, t.relname AS table_name, ix.indisunique AS is_unique,
	array_to_string(ARRAY(
		SELECT a.attname FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
		JOIN pg_attribute a ON a.attrelid = t.oid AND a.attnum = k.attnum
		ORDER BY k.ord
	), ',') AS columns
FROM pg_index ix
JOIN pg_class i ON i.oid = ix.indexrelid
JOIN pg_class t ON t.oid = ix.indrelid
JOIN pg_namespace n ON n.oid = t.relnamespace
WHERE n.nspname = current_schema()
	AND NOT EXISTS (SELECT 1 FROM pg_constraint c WHERE c.conindid = ix.indexrelid)`

	pgConstraintsQuery = `SELECT table_name, constraint_name FROM information_schema.table_constraints
WHERE table_schema = current_schema() AND constraint_type IN ('CHECK', 'UNIQUE', 'FOREIGN KEY')
	AND constraint_name NOT LIKE '%_not_null'`
)

func (postgresDialect) Inspect(ctx context.Context, db *gorm.DB) (*Schema, error) {
	db = db.WithContext(ctx)
	schema := NewSchema()

	var tables []string
	if err := db.Raw(pgTablesQuery).Scan(&tables).Error; err != nil {
		return nil, fmt.Errorf("inspect tables: %w", err)
	}
	for _, name := range tables {
		schema.AddTable(name)
	}

	var columns []pgColumnRow
	if err := db.Raw(pgColumnsQuery).Scan(&columns).Error; err != nil {
		return nil, fmt.Errorf("inspect columns: %w", err)
	}
	for _, c := range columns {
		t, ok := schema.Tables[c.TableName]
		if !ok {
			// представления
			continue
		}
		t.Columns = append(t.Columns, Column{
			Name:     c.ColumnName,
			Type:     pgColumnType(c.DataType, c.UdtName),
			Nullable: c.IsNullable == "YES",
		})
	}

	var enums []pgEnumRow
	if err := db.Raw(pgEnumsQuery).Scan(&enums).Error; err != nil {
		return nil, fmt.Errorf("inspect enums: %w", err)
	}
	for _, e := range enums {
		schema.Enums[e.Name] = append(schema.Enums[e.Name], e.Value)
	}

	var indexes []pgIndexRow
	if err := db.Raw(pgIndexesQuery).Scan(&indexes).Error; err != nil {
		return nil, fmt.Errorf("inspect indexes: %w", err)
	}
	for _, idx := range indexes {
		t, ok := schema.Tables[idx.TableName]
		if !ok {
			continue
		}
		t.Indexes[idx.IndexName] = Index{
			Name:    idx.IndexName,
			Table:   idx.TableName,
			Columns: strings.Split(idx.Columns, ","),
			Unique:  idx.IsUnique,
		}
	}

	var constraints []pgConstraintRow
	if err := db.Raw(pgConstraintsQuery).Scan(&constraints).Error; err != nil {
		return nil, fmt.Errorf("inspect constraints: %w", err)
	}
	for _, c := range constraints {
		if t, ok := schema.Tables[c.TableName]; ok {
			t.Constraints[c.ConstraintName] = ""
		}
	}

	return schema, nil
}

func pgColumnType(dataType, udtName string) string {
	switch dataType {
	case "USER-DEFINED":
		return udtName
	case "ARRAY":
		return NormalizeType(strings.TrimPrefix(udtName, "_")) + "[]"
	default:
		return dataType
	}
}
