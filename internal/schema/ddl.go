package schema

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var plainIdentifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*$`)

var numericLiteral = regexp.MustCompile(`^-?[0-9]+(\.[0-9]+)?([eE][-+]?[0-9]+)?$`)

// default expressions MySQL reports without quotes
var defaultKeywords = map[string]bool{
	"CURRENT_TIMESTAMP":   true,
	"CURRENT_TIMESTAMP()": true,
	"NOW()":               true,
	"LOCALTIME":           true,
	"LOCALTIMESTAMP":      true,
	"CURRENT_DATE":        true,
	"CURRENT_TIME":        true,
	"b'0'":                true,
	"b'1'":                true,
}

// Ident renders an identifier bare when it is a plain word and quoted with
// backticks otherwise.
func Ident(name string) string {
	if plainIdentifier.MatchString(name) {
		return name
	}
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

// CreateTableSQL reconstructs a CREATE TABLE statement from extracted
// metadata. Columns follow ordinal position, the primary key comes next
// and the remaining indexes follow sorted by name.
func CreateTableSQL(table *Table) (string, error) {
	if table == nil {
		return "", fmt.Errorf("table cannot be nil")
	}

	if err := table.Validate(); err != nil {
		return "", fmt.Errorf("invalid table: %w", err)
	}

	table.sortColumns()

	defs := make([]string, 0, len(table.Columns)+len(table.Indexes))
	for _, column := range table.Columns {
		defs = append(defs, columnDefinition(column))
	}

	if pk := table.GetPrimaryKey(); pk != nil {
		defs = append(defs, "PRIMARY KEY ("+indexColumns(pk)+")")
	}

	for _, index := range table.SecondaryIndexes() {
		keyword := "KEY"
		switch {
		case index.IsUnique:
			keyword = "UNIQUE KEY"
		case strings.EqualFold(index.IndexType, "FULLTEXT"):
			keyword = "FULLTEXT KEY"
		}
		defs = append(defs, fmt.Sprintf("%s %s (%s)", keyword, Ident(index.Name), indexColumns(index)))
	}

	return fmt.Sprintf("CREATE TABLE %s (%s)", Ident(table.Name), strings.Join(defs, ", ")), nil
}

// columnDefinition generates the SQL definition for a column
func columnDefinition(column *Column) string {
	columnType := column.ColumnType
	if columnType == "" {
		columnType = column.DataType
	}

	var b strings.Builder
	b.WriteString(Ident(column.Name))
	b.WriteString(" ")
	b.WriteString(columnType)

	if !column.IsNullable {
		b.WriteString(" NOT NULL")
	}

	if column.DefaultValue != nil && !strings.EqualFold(*column.DefaultValue, "NULL") {
		b.WriteString(" DEFAULT ")
		b.WriteString(defaultLiteral(*column.DefaultValue))
	}

	if column.AutoIncrement {
		b.WriteString(" AUTO_INCREMENT")
	}

	return b.String()
}

// defaultLiteral renders a default as reported by INFORMATION_SCHEMA:
// numbers and temporal keywords as they are, everything else as a string
// literal.
func defaultLiteral(value string) string {
	upper := strings.ToUpper(value)
	if numericLiteral.MatchString(value) || defaultKeywords[upper] || defaultKeywords[value] {
		return value
	}
	if strings.HasPrefix(value, "(") && strings.HasSuffix(value, ")") {
		// MySQL 8 expression default
		return value
	}
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func indexColumns(index *Index) string {
	cols := make([]string, len(index.Columns))
	for i, ic := range index.Columns {
		cols[i] = Ident(ic.Name)
		if ic.SubPart != nil {
			cols[i] += "(" + strconv.Itoa(*ic.SubPart) + ")"
		}
	}
	return strings.Join(cols, ",")
}
