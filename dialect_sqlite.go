package db_migrator

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// EnumCatalogTable хранит значения enum в SQLite, где собственных enum-типов нет.
const EnumCatalogTable = "_enum_catalog"

var createEnumCatalog = fmt.Sprintf(
	"CREATE TABLE IF NOT EXISTS %s (enum_name TEXT NOT NULL, value TEXT NOT NULL, position INTEGER NOT NULL, PRIMARY KEY (enum_name, value))",
	quoteIdent(EnumCatalogTable),
)

type sqliteDialect struct{}

func (sqliteDialect) Name() string { return "sqlite" }

func (sqliteDialect) Render(op Operation) ([]string, error) {
	// SQLite не удаляет колонку, входящую в индекс: индексы удаляются заранее
	if o, ok := op.(DropColumn); ok && len(o.Indexes) > 0 {
		statements := make([]string, 0, len(o.Indexes)+1)
		for _, idx := range o.Indexes {
			statements = append(statements, "DROP INDEX IF EXISTS "+quoteIdent(idx.Name))
		}
		drop, _ := renderCommon(o)
		return append(statements, drop...), nil
	}

	if statements, ok := renderCommon(op); ok {
		return statements, nil
	}

	catalog := quoteIdent(EnumCatalogTable)
	switch o := op.(type) {
	case AddColumn:
		// SQLite не умеет добавлять колонку первичного ключа
		if o.Column.PrimaryKey {
			return nil, fmt.Errorf("add primary key column on sqlite: %w", ErrUnsupportedOperation)
		}
		return []string{fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(o.Table), columnDefinition(o.Column, false))}, nil
	case CreateEnum:
		statements := []string{createEnumCatalog}
		if len(o.Values) > 0 {
			rows := make([]string, len(o.Values))
			for i, v := range o.Values {
				rows[i] = fmt.Sprintf("(%s, %s, %d)", quoteLiteral(o.Name), quoteLiteral(v), i)
			}
			statements = append(statements, fmt.Sprintf(
				"INSERT INTO %s (enum_name, value, position) VALUES %s", catalog, strings.Join(rows, ", "),
			))
		}
		return statements, nil
	case DropEnum:
		return []string{createEnumCatalog, fmt.Sprintf("DELETE FROM %s WHERE enum_name = %s", catalog, quoteLiteral(o.Name))}, nil
	case AddEnumValue:
		return []string{createEnumCatalog, fmt.Sprintf(
			"INSERT INTO %s (enum_name, value, position) SELECT %s, %s, COALESCE(MAX(position), -1) + 1 FROM %s WHERE enum_name = %s",
			catalog, quoteLiteral(o.Enum), quoteLiteral(o.Value), catalog, quoteLiteral(o.Enum),
		)}, nil
	case RenameEnumValue:
		return []string{createEnumCatalog, fmt.Sprintf(
			"UPDATE %s SET value = %s WHERE enum_name = %s AND value = %s",
			catalog, quoteLiteral(o.To), quoteLiteral(o.Enum), quoteLiteral(o.From),
		)}, nil
	}

	return nil, fmt.Errorf("%s on sqlite: %w", op.Kind(), ErrUnsupportedOperation)
}

type sqliteColumnRow struct {
	Cid     int
	Name    string
	Type    string
	Notnull int
	Pk      int
}

type sqliteIndexRow struct {
	Name    string
	TblName string
	SQL     string `gorm:"column:sql"`
}

type sqliteIndexColumnRow struct {
	Seqno int
	Cid   int
	Name  string
}

type sqliteEnumRow struct {
	EnumName string
	Value    string
}

// sqliteDatabaseFile возвращает путь к файлу основной базы, для базы в памяти - пустую строку.
func sqliteDatabaseFile(ctx context.Context, db *gorm.DB) (string, error) {
	var file string
	err := db.WithContext(ctx).Raw("SELECT file FROM pragma_database_list WHERE name = 'main'").Scan(&file).Error
	return file, err
}

func (sqliteDialect) Inspect(ctx context.Context, db *gorm.DB) (*Schema, error) {
	db = db.WithContext(ctx)
	schema := NewSchema()
	schema.Constraints = false

	var tables []string
	err := db.Raw(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`).
		Scan(&tables).Error
	if err != nil {
		return nil, fmt.Errorf("inspect tables: %w", err)
	}

	hasCatalog := false
	for _, name := range tables {
		if name == EnumCatalogTable {
			hasCatalog = true
			continue
		}

		var columns []sqliteColumnRow
		if err := db.Raw("PRAGMA table_info(" + quoteIdent(name) + ")").Scan(&columns).Error; err != nil {
			return nil, fmt.Errorf("inspect columns of %q: %w", name, err)
		}
		t := schema.AddTable(name)
		for _, c := range columns {
			t.Columns = append(t.Columns, Column{
				Name:       c.Name,
				Type:       c.Type,
				Nullable:   c.Notnull == 0,
				PrimaryKey: c.Pk > 0,
			})
		}
	}

	// автоматические индексы (sql IS NULL) создаются ограничениями и не учитываются
	var indexes []sqliteIndexRow
	err = db.Raw(`SELECT name, tbl_name, sql FROM sqlite_master WHERE type = 'index' AND sql IS NOT NULL`).
		Scan(&indexes).Error
	if err != nil {
		return nil, fmt.Errorf("inspect indexes: %w", err)
	}
	for _, idx := range indexes {
		t, ok := schema.Tables[idx.TblName]
		if !ok {
			continue
		}
		var columns []sqliteIndexColumnRow
		if err := db.Raw("PRAGMA index_info(" + quoteIdent(idx.Name) + ")").Scan(&columns).Error; err != nil {
			return nil, fmt.Errorf("inspect index %q: %w", idx.Name, err)
		}
		names := make([]string, 0, len(columns))
		for _, c := range columns {
			names = append(names, c.Name)
		}
		t.Indexes[idx.Name] = Index{
			Name:    idx.Name,
			Table:   idx.TblName,
			Columns: names,
			Unique:  strings.HasPrefix(strings.ToUpper(strings.TrimSpace(idx.SQL)), "CREATE UNIQUE"),
		}
	}

	if hasCatalog {
		var enums []sqliteEnumRow
		err = db.Raw("SELECT enum_name, value FROM " + quoteIdent(EnumCatalogTable) + " ORDER BY enum_name, position").
			Scan(&enums).Error
		if err != nil {
			return nil, fmt.Errorf("inspect enums: %w", err)
		}
		for _, e := range enums {
			schema.Enums[e.EnumName] = append(schema.Enums[e.EnumName], e.Value)
		}
	}

	return schema, nil
}
