package export

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"

	"canvas-aux/internal/database"
)

// Runner executes an external command
type Runner func(ctx context.Context, name string, args []string, env []string) ([]byte, error)

func execRunner(ctx context.Context, name string, args []string, env []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Dumper delegates table dumps to the mysqldump binary
type Dumper struct {
	Binary string
	Config database.DatabaseConfig
	run    Runner
}

// NewDumper creates a dumper for the given connection settings
func NewDumper(config database.DatabaseConfig) *Dumper {
	return &Dumper{Binary: "mysqldump", Config: config, run: execRunner}
}

// WithRunner replaces the command runner
func (d *Dumper) WithRunner(run Runner) *Dumper {
	d.run = run
	return d
}

// args builds the mysqldump command line; the password travels in the
// environment.
func (d *Dumper) args(table, path string) []string {
	return []string{
		"--host=" + d.Config.Host,
		"--port=" + strconv.Itoa(d.Config.Port),
		"--user=" + d.Config.Username,
		"--single-transaction",
		"--skip-lock-tables",
		"--result-file=" + path,
		d.Config.Database,
		table,
	}
}

// Dump writes table to path
func (d *Dumper) Dump(ctx context.Context, table, path string) error {
	var env []string
	if d.Config.Password != "" {
		env = append(env, "MYSQL_PWD="+d.Config.Password)
	}

	output, err := d.run(ctx, d.Binary, d.args(table, path), env)
	if err != nil {
		return fmt.Errorf("%s failed: %w: %s", d.Binary, err, output)
	}
	return nil
}
