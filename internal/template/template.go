// Package template loads SQL table templates and substitutes the site
// placeholders they contain.
package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"canvas-aux/internal/backupname"
	"canvas-aux/internal/errors"
)

// Placeholder tokens recognised in templates. Anything else in angle
// brackets passes through untouched.
const (
	TokenCanvasDB  = "<canvas_db>"
	TokenCanvasAux = "<canvas_aux>"
	TokenDataDir   = "<data_dir>"
)

// substitution keys, as produced by config.Substitutions
var tokenKeys = []struct {
	token string
	key   string
}{
	{TokenCanvasDB, "canvas_db"},
	{TokenCanvasAux, "canvas_aux"},
	{TokenDataDir, "data_dir"},
}

// Template is the SQL text that builds one root table
type Template struct {
	Name string
	Path string
	SQL  string
}

// Resolver substitutes placeholder tokens with configured values
type Resolver struct {
	values map[string]string
}

// NewResolver creates a resolver from a key -> value map with the keys
// canvas_db, canvas_aux and data_dir.
func NewResolver(values map[string]string) *Resolver {
	copied := make(map[string]string, len(values))
	for k, v := range values {
		copied[k] = v
	}
	return &Resolver{values: copied}
}

// ResolveText substitutes every known token in text. A token that appears
// in text without a configured value is a configuration error.
func (r *Resolver) ResolveText(text string) (string, error) {
	pairs := make([]string, 0, len(tokenKeys)*2)
	for _, tk := range tokenKeys {
		if !strings.Contains(text, tk.token) {
			continue
		}
		value := r.values[tk.key]
		if value == "" {
			return "", errors.NewConfigurationError(
				fmt.Sprintf("no value configured for placeholder %s", tk.token), nil).
				WithContext("placeholder", tk.key)
		}
		pairs = append(pairs, tk.token, value)
	}

	if len(pairs) == 0 {
		return text, nil
	}
	return strings.NewReplacer(pairs...).Replace(text), nil
}

// Resolve returns the template's SQL with placeholders substituted
func (r *Resolver) Resolve(t Template) (string, error) {
	resolved, err := r.ResolveText(t.SQL)
	if err != nil {
		if appErr, ok := err.(*errors.AppError); ok {
			return "", appErr.WithTables(t.Name)
		}
		return "", err
	}
	return resolved, nil
}

// ResolveAll resolves every template, keyed by root name
func (r *Resolver) ResolveAll(templates []Template) (map[string]string, error) {
	resolved := make(map[string]string, len(templates))
	for _, t := range templates {
		sql, err := r.Resolve(t)
		if err != nil {
			return nil, err
		}
		resolved[t.Name] = sql
	}
	return resolved, nil
}

// LoadDir reads every *.sql file in dir. The file stem is the root name.
// Templates are returned in name order.
func LoadDir(dir string) ([]Template, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, errors.NewConfigurationError("cannot read template directory "+dir, err)
	}
	if !info.IsDir() {
		return nil, errors.NewConfigurationError(dir+" is not a directory", nil)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.sql"))
	if err != nil {
		return nil, errors.NewConfigurationError("invalid template directory "+dir, err)
	}
	sort.Strings(paths)

	templates := make([]Template, 0, len(paths))
	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if !backupname.IsRoot(name) {
			return nil, errors.NewTableError("template name collides with the backup naming pattern", name)
		}

		content, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.NewConfigurationError("cannot read template "+path, err)
		}

		templates = append(templates, Template{Name: name, Path: path, SQL: string(content)})
	}

	return templates, nil
}

// Names returns the root names of templates in their given order
func Names(templates []Template) []string {
	names := make([]string, len(templates))
	for i, t := range templates {
		names[i] = t.Name
	}
	return names
}

// Find returns the template with the given name
func Find(templates []Template, name string) (Template, bool) {
	for _, t := range templates {
		if t.Name == name {
			return t, true
		}
	}
	return Template{}, false
}
