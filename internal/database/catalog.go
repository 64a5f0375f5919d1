package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// TableOps is the set of auxiliary-schema operations the builder, retention
// manager and restorer rely on.
type TableOps interface {
	ListTables(ctx context.Context) ([]string, error)
	TableExists(ctx context.Context, name string) (bool, error)
	RenameTable(ctx context.Context, from, to string) error
	DropTable(ctx context.Context, name string) error
	CountRows(ctx context.Context, name string) (int64, error)
	ExecStatements(ctx context.Context, script string) error
	Exec(ctx context.Context, query string, args ...interface{}) error
}

// Catalog implements TableOps for one MySQL schema
type Catalog struct {
	db     *sql.DB
	schema string
	logger *logging.Logger
}

// NewCatalog binds table operations to a connection and schema name
func NewCatalog(db *sql.DB, schema string, logger *logging.Logger) *Catalog {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Catalog{db: db, schema: schema, logger: logger}
}

// Schema returns the schema the catalog operates on
func (c *Catalog) Schema() string {
	return c.schema
}

// DB returns the underlying connection
func (c *Catalog) DB() *sql.DB {
	return c.db
}

// QuoteIdent quotes a MySQL identifier with backticks
func QuoteIdent(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (c *Catalog) qualified(name string) string {
	return QuoteIdent(c.schema) + "." + QuoteIdent(name)
}

// ListTables returns the base tables of the schema in name order
func (c *Catalog) ListTables(ctx context.Context) ([]string, error) {
	query := `
		SELECT TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_TYPE = 'BASE TABLE'
		ORDER BY TABLE_NAME`

	rows, err := c.db.QueryContext(ctx, query, c.schema)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list tables", "", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.NewDatabaseError("failed to scan table name", "", err)
		}
		tables = append(tables, name)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("error iterating tables", "", err)
	}

	return tables, nil
}

// TableExists reports whether a base table of that name exists
func (c *Catalog) TableExists(ctx context.Context, name string) (bool, error) {
	query := `
		SELECT COUNT(*)
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?`

	var count int
	if err := c.db.QueryRowContext(ctx, query, c.schema, name).Scan(&count); err != nil {
		return false, errors.NewDatabaseError("failed to check table existence", name, err)
	}
	return count > 0, nil
}

// RenameTable renames a table within the schema
func (c *Catalog) RenameTable(ctx context.Context, from, to string) error {
	stmt := "RENAME TABLE " + c.qualified(from) + " TO " + c.qualified(to)
	err := c.exec(ctx, stmt)
	c.logger.LogRename(from, to, err)
	if err != nil {
		return errors.NewDatabaseError("failed to rename table", from, err).WithTables(to)
	}
	return nil
}

// DropTable drops a table from the schema
func (c *Catalog) DropTable(ctx context.Context, name string) error {
	err := c.exec(ctx, "DROP TABLE "+c.qualified(name))
	c.logger.LogDrop(name, err)
	if err != nil {
		return errors.NewDatabaseError("failed to drop table", name, err)
	}
	return nil
}

// CountRows returns COUNT(*) for a table
func (c *Catalog) CountRows(ctx context.Context, name string) (int64, error) {
	var count int64
	query := "SELECT COUNT(*) FROM " + c.qualified(name)
	startTime := time.Now()
	err := c.db.QueryRowContext(ctx, query).Scan(&count)
	c.logger.LogSQLExecution(query, time.Since(startTime), 0, err)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to count rows", name, err)
	}
	return count, nil
}

// ExecStatements sends a script as one multi-statement batch
func (c *Catalog) ExecStatements(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		return nil
	}
	if err := c.exec(ctx, script); err != nil {
		return errors.WrapError(err, "failed to execute statements")
	}
	return nil
}

// Exec runs a single parameterised statement
func (c *Catalog) Exec(ctx context.Context, query string, args ...interface{}) error {
	if err := c.exec(ctx, query, args...); err != nil {
		return errors.WrapError(err, "failed to execute statement")
	}
	return nil
}

func (c *Catalog) exec(ctx context.Context, query string, args ...interface{}) error {
	startTime := time.Now()
	result, err := c.db.ExecContext(ctx, query, args...)

	var affected int64
	if err == nil && result != nil {
		affected, _ = result.RowsAffected()
	}
	c.logger.LogSQLExecution(query, time.Since(startTime), affected, err)
	return err
}
