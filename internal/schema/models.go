package schema

import (
	"fmt"
	"sort"
)

// Table is the reconstructable shape of one auxiliary table
type Table struct {
	Name    string    `json:"name" yaml:"name"`
	Columns []*Column `json:"columns" yaml:"columns"`
	Indexes []*Index  `json:"indexes" yaml:"indexes"`
}

// Column represents a table column
type Column struct {
	Name          string  `json:"name" yaml:"name"`
	DataType      string  `json:"data_type" yaml:"data_type"`
	ColumnType    string  `json:"column_type" yaml:"column_type"`
	IsNullable    bool    `json:"is_nullable" yaml:"is_nullable"`
	DefaultValue  *string `json:"default_value,omitempty" yaml:"default_value,omitempty"`
	AutoIncrement bool    `json:"auto_increment" yaml:"auto_increment"`
	Extra         string  `json:"extra,omitempty" yaml:"extra,omitempty"`
	Position      int     `json:"position" yaml:"position"`
}

// IndexColumn is one column of an index, with the prefix length used for
// indexes over text columns.
type IndexColumn struct {
	Name    string `json:"name" yaml:"name"`
	SubPart *int   `json:"sub_part,omitempty" yaml:"sub_part,omitempty"`
}

// Index represents a database index
type Index struct {
	Name      string        `json:"name" yaml:"name"`
	Columns   []IndexColumn `json:"columns" yaml:"columns"`
	IsUnique  bool          `json:"is_unique" yaml:"is_unique"`
	IsPrimary bool          `json:"is_primary" yaml:"is_primary"`
	IndexType string        `json:"index_type" yaml:"index_type"`
}

// NewTable creates a new table
func NewTable(name string) *Table {
	return &Table{
		Name:    name,
		Columns: make([]*Column, 0),
		Indexes: make([]*Index, 0),
	}
}

// Validate validates the Table structure
func (t *Table) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("table name cannot be empty")
	}

	if len(t.Columns) == 0 {
		return fmt.Errorf("table %s has no columns", t.Name)
	}

	autoIncrement := 0
	seen := make(map[string]bool, len(t.Columns))
	for _, column := range t.Columns {
		if column.Name == "" {
			return fmt.Errorf("column name cannot be empty")
		}
		if seen[column.Name] {
			return fmt.Errorf("duplicate column %s", column.Name)
		}
		seen[column.Name] = true
		if column.AutoIncrement {
			autoIncrement++
		}
	}
	if autoIncrement > 1 {
		return fmt.Errorf("table %s has %d auto-increment columns", t.Name, autoIncrement)
	}

	for _, index := range t.Indexes {
		if len(index.Columns) == 0 {
			return fmt.Errorf("index %s has no columns", index.Name)
		}
		for _, ic := range index.Columns {
			if !seen[ic.Name] {
				return fmt.Errorf("index %s references unknown column %s", index.Name, ic.Name)
			}
		}
	}

	return nil
}

// ColumnNames returns the column names in ordinal order
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// GetColumn retrieves a column by name
func (t *Table) GetColumn(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// GetPrimaryKey returns the primary key index if it exists
func (t *Table) GetPrimaryKey() *Index {
	for _, index := range t.Indexes {
		if index.IsPrimary {
			return index
		}
	}
	return nil
}

// SecondaryIndexes returns the non-primary indexes sorted by name
func (t *Table) SecondaryIndexes() []*Index {
	var out []*Index
	for _, index := range t.Indexes {
		if !index.IsPrimary {
			out = append(out, index)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// sortColumns orders columns by ordinal position
func (t *Table) sortColumns() {
	sort.SliceStable(t.Columns, func(i, j int) bool {
		return t.Columns[i].Position < t.Columns[j].Position
	})
}
