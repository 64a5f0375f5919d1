package schema

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"canvas-aux/internal/errors"
)

// Extractor reads table structure from INFORMATION_SCHEMA
type Extractor struct {
	queryTimeout time.Duration
}

// NewExtractor creates a new schema extractor
func NewExtractor() *Extractor {
	return &Extractor{
		queryTimeout: 30 * time.Second,
	}
}

// NewExtractorWithTimeout creates a new schema extractor with custom timeout
func NewExtractorWithTimeout(timeout time.Duration) *Extractor {
	return &Extractor{
		queryTimeout: timeout,
	}
}

// ExtractTable reads the columns and indexes of one table
func (e *Extractor) ExtractTable(ctx context.Context, db *sql.DB, schemaName, tableName string) (*Table, error) {
	if db == nil {
		return nil, errors.NewAppError(errors.ErrorTypeDatabase, "database connection is nil", nil)
	}

	if schemaName == "" || tableName == "" {
		return nil, errors.NewConfigurationError("schema and table name are required", nil)
	}

	table := NewTable(tableName)

	columns, err := e.extractColumns(ctx, db, schemaName, tableName)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to extract columns", tableName, err)
	}
	if len(columns) == 0 {
		return nil, errors.NewTableError("table does not exist or has no columns", tableName)
	}
	table.Columns = columns
	table.sortColumns()

	indexes, err := e.extractIndexes(ctx, db, schemaName, tableName)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to extract indexes", tableName, err)
	}
	table.Indexes = indexes

	if err := table.Validate(); err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeTable, "extracted table is invalid", err).WithTables(tableName)
	}

	return table, nil
}

// extractColumns extracts all columns for a specific table in ordinal order
func (e *Extractor) extractColumns(ctx context.Context, db *sql.DB, schemaName, tableName string) ([]*Column, error) {
	query := `
		SELECT
			COLUMN_NAME,
			DATA_TYPE,
			IS_NULLABLE,
			COLUMN_DEFAULT,
			EXTRA,
			ORDINAL_POSITION,
			COLUMN_TYPE
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY ORDINAL_POSITION
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query columns for table %s: %w", tableName, err)
	}
	defer rows.Close()

	var columns []*Column

	for rows.Next() {
		var columnName, dataType, isNullable, extra, columnType string
		var defaultValue sql.NullString
		var position int

		err := rows.Scan(
			&columnName,
			&dataType,
			&isNullable,
			&defaultValue,
			&extra,
			&position,
			&columnType,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan column data: %w", err)
		}

		column := &Column{
			Name:          columnName,
			DataType:      strings.ToLower(dataType),
			ColumnType:    columnType,
			IsNullable:    isNullable == "YES",
			AutoIncrement: strings.Contains(strings.ToLower(extra), "auto_increment"),
			Extra:         extra,
			Position:      position,
		}

		if defaultValue.Valid {
			column.DefaultValue = &defaultValue.String
		}

		columns = append(columns, column)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column rows: %w", err)
	}

	return columns, nil
}

// extractIndexes extracts all indexes for a specific table, including the
// prefix length of each indexed column.
func (e *Extractor) extractIndexes(ctx context.Context, db *sql.DB, schemaName, tableName string) ([]*Index, error) {
	query := `
		SELECT
			INDEX_NAME,
			COLUMN_NAME,
			NON_UNIQUE,
			INDEX_TYPE,
			SEQ_IN_INDEX,
			SUB_PART
		FROM INFORMATION_SCHEMA.STATISTICS
		WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ?
		ORDER BY INDEX_NAME, SEQ_IN_INDEX
	`

	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to query indexes for table %s: %w", tableName, err)
	}
	defer rows.Close()

	indexMap := make(map[string]*Index)
	var order []string

	for rows.Next() {
		var indexName, columnName, indexType string
		var nonUnique, seqInIndex int
		var subPart sql.NullInt64

		err := rows.Scan(
			&indexName,
			&columnName,
			&nonUnique,
			&indexType,
			&seqInIndex,
			&subPart,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan index data: %w", err)
		}

		index, exists := indexMap[indexName]
		if !exists {
			index = &Index{
				Name:      indexName,
				IsUnique:  nonUnique == 0,
				IsPrimary: indexName == "PRIMARY",
				IndexType: indexType,
			}
			indexMap[indexName] = index
			order = append(order, indexName)
		}

		ic := IndexColumn{Name: columnName}
		if subPart.Valid {
			n := int(subPart.Int64)
			ic.SubPart = &n
		}
		index.Columns = append(index.Columns, ic)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating index rows: %w", err)
	}

	indexes := make([]*Index, 0, len(order))
	for _, name := range order {
		indexes = append(indexes, indexMap[name])
	}

	return indexes, nil
}
