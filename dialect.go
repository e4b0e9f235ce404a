package db_migrator

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// Dialect переводит операции в SQL конкретной СУБД и снимает с нее живую схему.
type Dialect interface {
	Name() string
	// Render возвращает SQL-выражения операции в порядке выполнения.
	Render(op Operation) ([]string, error)
	// Inspect читает живую схему текущей базы.
	Inspect(ctx context.Context, db *gorm.DB) (*Schema, error)
}

// dialectFor выбирает диалект по имени gorm-диалектора.
func dialectFor(name string) (Dialect, error) {
	switch name {
	case "postgres", "pgx":
		return postgresDialect{}, nil
	case "sqlite", "sqlite3":
		return sqliteDialect{}, nil
	default:
		return nil, fmt.Errorf("database dialect %q is not supported, use postgres or sqlite", name)
	}
}

// RenderRevision возвращает SQL направления direction для ревизии.
func RenderRevision(d Dialect, revision *Revision, direction Direction) ([]string, error) {
	ops := revision.Upgrade
	if direction == DirectionDowngrade {
		var err error
		ops, err = revision.DowngradeOperations()
		if err != nil {
			return nil, err
		}
	}

	var statements []string
	for i, op := range ops {
		rendered, err := d.Render(op)
		if err != nil {
			return nil, fmt.Errorf("revision %q operation %d (%s): %w", revision.ID, i+1, op.Kind(), err)
		}
		statements = append(statements, rendered...)
	}
	return statements, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func quoteIdents(names []string) string {
	quoted := make([]string, len(names))
	for i, name := range names {
		quoted[i] = quoteIdent(name)
	}
	return strings.Join(quoted, ", ")
}

func columnDefinition(col Column, inlinePrimaryKey bool) string {
	var b strings.Builder
	b.WriteString(quoteIdent(col.Name))
	b.WriteByte(' ')
	b.WriteString(col.Type)
	if col.PrimaryKey || !col.Nullable {
		b.WriteString(" NOT NULL")
	}
	if col.Default != "" {
		b.WriteString(" DEFAULT ")
		b.WriteString(col.Default)
	}
	if inlinePrimaryKey && col.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	}
	return b.String()
}

func createTableStatement(o CreateTable) string {
	defs := make([]string, 0, len(o.Columns)+1)
	var pk []string
	for _, col := range o.Columns {
		defs = append(defs, columnDefinition(col, false))
		if col.PrimaryKey {
			pk = append(pk, col.Name)
		}
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteIdents(pk)+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(o.Table), strings.Join(defs, ", "))
}

func createIndexStatement(name, table string, columns []string, unique bool) string {
	kind := "INDEX"
	if unique {
		kind = "UNIQUE INDEX"
	}
	return fmt.Sprintf("CREATE %s %s ON %s (%s)", kind, quoteIdent(name), quoteIdent(table), quoteIdents(columns))
}

// renderCommon покрывает операции, SQL которых одинаков в обоих диалектах.
func renderCommon(op Operation) ([]string, bool) {
	switch o := op.(type) {
	case CreateTable:
		return []string{createTableStatement(o)}, true
	case DropTable:
		return []string{"DROP TABLE " + quoteIdent(o.Table)}, true
	case DropColumn:
		return []string{fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", quoteIdent(o.Table), quoteIdent(o.Column.Name))}, true
	case RenameColumn:
		return []string{fmt.Sprintf(
			"ALTER TABLE %s RENAME COLUMN %s TO %s", quoteIdent(o.Table), quoteIdent(o.From), quoteIdent(o.To),
		)}, true
	case CreateIndex:
		return []string{createIndexStatement(o.Name, o.Table, o.Columns, o.Unique)}, true
	case DropIndex:
		return []string{"DROP INDEX " + quoteIdent(o.Name)}, true
	case SQL:
		return []string{o.SQL}, true
	}
	return nil, false
}
