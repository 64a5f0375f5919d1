// Package testutil holds test doubles shared across packages.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"canvas-aux/internal/database"
)

var _ database.TableOps = (*MemoryCatalog)(nil)

// MemoryCatalog is an in-memory auxiliary schema. Each table is reduced to
// its row count.
type MemoryCatalog struct {
	mu sync.Mutex

	Tables map[string]int64

	// Failure injection keyed by table name (the source name for renames)
	DropErrors   map[string]error
	RenameErrors map[string]error
	ExecErrors   map[string]error

	Calls []string
}

// NewMemoryCatalog creates a catalog holding the given tables with zero rows
func NewMemoryCatalog(tables ...string) *MemoryCatalog {
	m := &MemoryCatalog{
		Tables:       make(map[string]int64),
		DropErrors:   make(map[string]error),
		RenameErrors: make(map[string]error),
		ExecErrors:   make(map[string]error),
	}
	for _, t := range tables {
		m.Tables[t] = 0
	}
	return m
}

// Names returns the table names in order
func (m *MemoryCatalog) Names() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.names()
}

func (m *MemoryCatalog) names() []string {
	names := make([]string, 0, len(m.Tables))
	for name := range m.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MemoryCatalog) ListTables(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "list")
	return m.names(), nil
}

func (m *MemoryCatalog) TableExists(ctx context.Context, name string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.Tables[name]
	return ok, nil
}

func (m *MemoryCatalog) RenameTable(ctx context.Context, from, to string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "rename "+from+" "+to)

	if err := m.RenameErrors[from]; err != nil {
		return err
	}
	rows, ok := m.Tables[from]
	if !ok {
		return fmt.Errorf("table %s does not exist", from)
	}
	if _, exists := m.Tables[to]; exists {
		return fmt.Errorf("table %s already exists", to)
	}
	delete(m.Tables, from)
	m.Tables[to] = rows
	return nil
}

func (m *MemoryCatalog) DropTable(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "drop "+name)

	if err := m.DropErrors[name]; err != nil {
		return err
	}
	if _, ok := m.Tables[name]; !ok {
		return fmt.Errorf("table %s does not exist", name)
	}
	delete(m.Tables, name)
	return nil
}

func (m *MemoryCatalog) CountRows(ctx context.Context, name string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows, ok := m.Tables[name]
	if !ok {
		return 0, fmt.Errorf("table %s does not exist", name)
	}
	return rows, nil
}

func (m *MemoryCatalog) ExecStatements(ctx context.Context, script string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, "exec")
	if err := m.ExecErrors[script]; err != nil {
		return err
	}
	return nil
}

func (m *MemoryCatalog) Exec(ctx context.Context, query string, args ...interface{}) error {
	return m.ExecStatements(ctx, query)
}
