// Package application wires configuration, connections and the table
// lifecycle components into the operator verbs.
package application

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"canvas-aux/internal/archive"
	"canvas-aux/internal/builder"
	"canvas-aux/internal/catalog"
	"canvas-aux/internal/config"
	"canvas-aux/internal/database"
	"canvas-aux/internal/dependency"
	appErrors "canvas-aux/internal/errors"
	"canvas-aux/internal/export"
	"canvas-aux/internal/logging"
	"canvas-aux/internal/restore"
	"canvas-aux/internal/retention"
	"canvas-aux/internal/sanity"
	"canvas-aux/internal/template"
)

// Options holds the flags shared by every verb
type Options struct {
	ConfigPath  string
	User        string
	Password    string
	Host        string
	Database    string
	TestMachine bool
	Quiet       bool
	Verbose     bool
	LogFile     string
	LogFormat   string
}

// LogLevel maps the verbosity flags to a logging level
func (o Options) LogLevel() logging.LogLevel {
	switch {
	case o.Quiet:
		return logging.LogLevelQuiet
	case o.Verbose:
		return logging.LogLevelVerbose
	default:
		return logging.LogLevelNormal
	}
}

// App is one invocation of the tool. Connections are opened on first use
// so verbs that only touch the file system never need a password.
type App struct {
	cfg       *config.Config
	opts      Options
	logger    *logging.Logger
	service   *database.Service
	passwords *config.PasswordResolver
	preparers builder.Registry

	dbConfig database.DatabaseConfig
	conns    *database.ConnectionManager
}

// NewLogger builds the run logger. Every entry carries a fresh run id.
func NewLogger(opts Options) (*logging.Logger, error) {
	logger, err := logging.NewLogger(logging.Config{
		Level:   opts.LogLevel(),
		Format:  opts.LogFormat,
		LogFile: opts.LogFile,
	})
	if err != nil {
		return nil, appErrors.NewConfigurationError("cannot set up logging", err)
	}
	return logger.WithRunID(""), nil
}

// New loads the configuration file and creates the application
func New(opts Options, logger *logging.Logger) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(cfg, opts, logger, database.NewService(logger))
}

// NewWithConfig creates the application from an already loaded
// configuration. Command-line overrides are applied to cfg.
func NewWithConfig(cfg *config.Config, opts Options, logger *logging.Logger, service *database.Service) (*App, error) {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	if service == nil {
		service = database.NewService(logger)
	}

	if opts.TestMachine {
		if err := cfg.UseTestMachine(); err != nil {
			return nil, err
		}
	}
	if opts.User != "" {
		cfg.Database.DefaultUser = opts.User
	}
	if opts.Host != "" {
		cfg.Database.DefaultHost = opts.Host
	}
	if opts.Database != "" {
		cfg.Database.AuxiliaryDBName = opts.Database
	}

	app := &App{
		cfg:       cfg,
		opts:      opts,
		logger:    logger,
		service:   service,
		passwords: config.NewPasswordResolver(),
	}
	app.preparers = app.registry()

	logger.WithFields(map[string]interface{}{
		"config":   cfg.Source(),
		"host":     cfg.Database.DefaultHost,
		"database": cfg.Database.AuxiliaryDBName,
	}).Debug("Configuration loaded")

	return app, nil
}

// WithPasswordResolver replaces the password sources
func (a *App) WithPasswordResolver(pr *config.PasswordResolver) *App {
	a.passwords = pr
	return a
}

// Config returns the effective configuration
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the run logger
func (a *App) Logger() *logging.Logger {
	return a.logger
}

// Preparers returns the preparer registry used by Build
func (a *App) Preparers() builder.Registry {
	return a.preparers
}

// registry maps roots to the preparers that fetch their external data
func (a *App) registry() builder.Registry {
	reg := builder.Registry{}

	ext := a.cfg.External
	if ext.CatalogTable != "" {
		fetcher := catalog.NewFetcher(ext.CatalogURL, a.logger)
		path := filepath.Join(a.cfg.Paths.DataDir, ext.CatalogFile)
		reg[ext.CatalogTable] = catalog.NewPreparer(fetcher, path, a.logger)
	}

	return reg
}

func (a *App) connections() (*database.ConnectionManager, error) {
	if a.conns != nil {
		return a.conns, nil
	}

	if err := a.cfg.ValidateConnection(a.opts.Password != ""); err != nil {
		return nil, err
	}

	db := a.cfg.Database
	password, err := a.passwords.Resolve(a.opts.Password, db, db.DefaultUser)
	if err != nil {
		return nil, err
	}

	a.dbConfig = database.DatabaseConfig{
		Host:     db.DefaultHost,
		Port:     db.Port,
		Username: db.DefaultUser,
		Password: password,
		Database: db.AuxiliaryDBName,
	}
	a.conns = database.NewConnectionManager(a.service, a.dbConfig, a.logger)
	return a.conns, nil
}

func (a *App) catalog(ctx context.Context) (*database.Catalog, error) {
	conns, err := a.connections()
	if err != nil {
		return nil, err
	}
	return conns.Catalog(ctx)
}

// Close releases every open connection
func (a *App) Close() error {
	if a.conns == nil {
		return nil
	}
	return a.conns.Close()
}

func (a *App) templates() ([]template.Template, error) {
	return template.LoadDir(a.cfg.Paths.TemplateDir)
}

// selectTables validates filter against the known roots. An empty filter
// selects all of them. Duplicates are dropped and the filter order kept.
func selectTables(known, filter []string) ([]string, error) {
	if len(filter) == 0 {
		return known, nil
	}

	set := make(map[string]bool, len(known))
	for _, k := range known {
		set[k] = true
	}

	seen := make(map[string]bool, len(filter))
	var selected, unknown []string
	for _, name := range filter {
		if seen[name] {
			continue
		}
		seen[name] = true
		if !set[name] {
			unknown = append(unknown, name)
			continue
		}
		selected = append(selected, name)
	}

	if len(unknown) > 0 {
		return nil, appErrors.NewTableError("no template for table", unknown...)
	}
	return selected, nil
}

// restrict keeps the members of order that are in selected
func restrict(order, selected []string) []string {
	keep := make(map[string]bool, len(selected))
	for _, s := range selected {
		keep[s] = true
	}
	out := make([]string, 0, len(selected))
	for _, name := range order {
		if keep[name] {
			out = append(out, name)
		}
	}
	return out
}

// Build resolves the templates, computes the load order and rebuilds the
// selected tables. A per-table failure is returned as the result's error
// after every table has been attempted.
func (a *App) Build(ctx context.Context, tables []string) (*builder.BuildResult, error) {
	done := a.logger.LogOperationStart("build", map[string]interface{}{"tables": tables})
	result, err := a.build(ctx, tables)
	done(err)
	return result, err
}

func (a *App) build(ctx context.Context, tables []string) (*builder.BuildResult, error) {
	templates, resolved, order, err := a.plan()
	if err != nil {
		return nil, err
	}
	selected, err := selectTables(template.Names(templates), tables)
	if err != nil {
		return nil, err
	}
	order = restrict(order, selected)
	a.logger.WithField("order", order).Info("Load order computed")

	ops, err := a.catalog(ctx)
	if err != nil {
		return nil, err
	}

	b := builder.NewBuilder(ops, builder.NewLoadLog(ops.DB(), a.logger), a.preparers, a.logger)
	result, err := b.Build(ctx, order, resolved)
	if err != nil {
		return result, err
	}
	return result, result.Err()
}

// plan loads and resolves the templates and sorts them into load order
func (a *App) plan() ([]template.Template, map[string]string, []string, error) {
	templates, err := a.templates()
	if err != nil {
		return nil, nil, nil, err
	}

	subs, err := a.cfg.Substitutions()
	if err != nil {
		return nil, nil, nil, err
	}
	resolved, err := template.NewResolver(subs).ResolveAll(templates)
	if err != nil {
		return nil, nil, nil, err
	}

	order, _, err := dependency.LoadOrder(resolved)
	if err != nil {
		return nil, nil, nil, err
	}
	return templates, resolved, order, nil
}

// Order returns the load order of every template without touching the
// database
func (a *App) Order() ([]string, error) {
	_, _, order, err := a.plan()
	return order, err
}

// Restore promotes backups of the targets. With no targets every template
// root is restored.
func (a *App) Restore(ctx context.Context, targets []string, force bool) (*restore.RestoreResult, error) {
	done := a.logger.LogOperationStart("restore", map[string]interface{}{"targets": targets, "force": force})

	result, err := a.restore(ctx, targets, force)
	done(err)
	return result, err
}

func (a *App) restore(ctx context.Context, targets []string, force bool) (*restore.RestoreResult, error) {
	if len(targets) == 0 {
		templates, err := a.templates()
		if err != nil {
			return nil, err
		}
		targets = template.Names(templates)
	}

	ops, err := a.catalog(ctx)
	if err != nil {
		return nil, err
	}

	result, err := restore.NewRestorer(ops, a.logger).Restore(ctx, targets, force)
	if err != nil {
		return result, err
	}
	return result, result.Err()
}

// Prune applies the backup retention policy
func (a *App) Prune(ctx context.Context, keep int, filter []string, dryRun bool) (*retention.RetentionResult, error) {
	done := a.logger.LogOperationStart("prune-backups", map[string]interface{}{"keep": keep, "dry_run": dryRun})

	result, err := a.prune(ctx, keep, filter, dryRun)
	done(err)
	return result, err
}

func (a *App) prune(ctx context.Context, keep int, filter []string, dryRun bool) (*retention.RetentionResult, error) {
	ops, err := a.catalog(ctx)
	if err != nil {
		return nil, err
	}

	result, err := retention.NewManager(ops, a.logger).Prune(ctx, keep, filter, dryRun)
	if err != nil {
		return result, err
	}
	return result, result.Err()
}

// ExportOptions selects what Export writes and where
type ExportOptions struct {
	Tables     []string
	Dest       string
	Mode       export.Mode
	Overwrite  bool
	WithSchema bool
}

// Export writes the selected tables to the export directory
func (a *App) Export(ctx context.Context, opts ExportOptions) (*export.ExportResult, error) {
	if opts.Dest == "" {
		opts.Dest = a.cfg.Paths.ExportDir
	}

	done := a.logger.LogOperationStart("export", map[string]interface{}{
		"dest": opts.Dest,
		"mode": string(opts.Mode),
	})
	result, err := a.export(ctx, opts)
	done(err)
	return result, err
}

func (a *App) export(ctx context.Context, opts ExportOptions) (*export.ExportResult, error) {
	templates, err := a.templates()
	if err != nil {
		return nil, err
	}
	tables, err := selectTables(template.Names(templates), opts.Tables)
	if err != nil {
		return nil, err
	}

	conns, err := a.connections()
	if err != nil {
		return nil, err
	}
	reader, err := conns.Reader(ctx)
	if err != nil {
		return nil, err
	}

	var dumper *export.Dumper
	if opts.Mode == export.ModeMySQLDump {
		dumper = export.NewDumper(a.dbConfig)
	}

	exporter := export.NewExporter(reader, a.dbConfig.Database, dumper, a.logger)
	result, err := exporter.Export(ctx, tables, export.Options{
		Dest:       opts.Dest,
		Mode:       opts.Mode,
		Overwrite:  opts.Overwrite,
		WithSchema: opts.WithSchema,
	})
	if err != nil {
		return result, err
	}
	return result, result.Err()
}

// CheckExports verifies the export directory holds a fresh, non-empty file
// for every template root
func (a *App) CheckExports(ctx context.Context, dir string, threshold time.Duration) (*sanity.Report, error) {
	if dir == "" {
		dir = a.cfg.Paths.ExportDir
	}

	templates, err := a.templates()
	if err != nil {
		return nil, err
	}

	report, err := sanity.NewChecker(threshold, a.logger).Check(ctx, dir, template.Names(templates))
	if err != nil {
		return report, err
	}
	return report, report.Err()
}

// ArchiveOptions selects what ArchiveExports bundles
type ArchiveOptions struct {
	Dir    string
	Tables []string
	DryRun bool
}

// ArchiveExports bundles the export directory and stores it with the
// configured provider
func (a *App) ArchiveExports(ctx context.Context, opts ArchiveOptions) (*archive.Result, error) {
	if opts.Dir == "" {
		opts.Dir = a.cfg.Paths.ExportDir
	}

	done := a.logger.LogOperationStart("archive-exports", map[string]interface{}{
		"dir":      opts.Dir,
		"provider": a.cfg.Archive.Provider,
	})
	result, err := a.archiveExports(ctx, opts)
	done(err)
	return result, err
}

func (a *App) archiveExports(ctx context.Context, opts ArchiveOptions) (*archive.Result, error) {
	compression, err := archive.ParseCompression(a.cfg.Archive.Compression)
	if err != nil {
		return nil, err
	}

	passphrase, err := a.passphrase()
	if err != nil {
		return nil, err
	}

	store, err := archive.NewStore(ctx, a.cfg.Archive)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return archive.NewPublisher(store, a.logger).Publish(ctx, opts.Dir, opts.Tables, archive.Options{
		Compression: compression,
		Passphrase:  passphrase,
		DryRun:      opts.DryRun,
	})
}

// ListArchives lists the archives held by the configured provider
func (a *App) ListArchives(ctx context.Context) ([]archive.Object, error) {
	store, err := archive.NewStore(ctx, a.cfg.Archive)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return archive.NewPublisher(store, a.logger).List(ctx)
}

func (a *App) passphrase() (string, error) {
	env := a.cfg.Archive.PassphraseEnv
	if env == "" {
		return "", nil
	}
	value := os.Getenv(env)
	if value == "" {
		return "", appErrors.NewConfigurationError(
			fmt.Sprintf("archive passphrase variable %s is not set", env), nil)
	}
	return value, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. The
// running verb stops after its current step; the returned stop function
// releases the signal handler.
func SignalContext(parent context.Context, logger *logging.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigChan:
			logger.WithField("signal", sig.String()).Warn("Received shutdown signal, stopping after the current step")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigChan)
		cancel()
	}
}
