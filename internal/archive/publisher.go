// Package archive bundles an export directory into a compressed, optionally
// encrypted tar archive and publishes it to a storage provider.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// Options control a publish run
type Options struct {
	Compression Compression
	// Passphrase enables encryption when non-empty
	Passphrase string
	// DryRun builds the archive but does not store it
	DryRun bool
}

// Result describes a published archive
type Result struct {
	Name        string      `json:"name" yaml:"name"`
	Location    string      `json:"location,omitempty" yaml:"location,omitempty"`
	Files       []string    `json:"files" yaml:"files"`
	RawSize     int64       `json:"raw_size" yaml:"raw_size"`
	Size        int64       `json:"size" yaml:"size"`
	Compression Compression `json:"compression" yaml:"compression"`
	Encrypted   bool        `json:"encrypted" yaml:"encrypted"`
	DryRun      bool        `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
}

// Publisher packs export directories and hands them to a store
type Publisher struct {
	store  Store
	logger *logging.Logger
	now    func() time.Time
	newID  func() string
}

// NewPublisher creates a publisher over store
func NewPublisher(store Store, logger *logging.Logger) *Publisher {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Publisher{
		store:  store,
		logger: logger,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
	}
}

// ArchiveName returns the object name for an archive created at t
func ArchiveName(t time.Time, id string, c Compression, encrypted bool) string {
	name := fmt.Sprintf("canvas-aux-exports-%s-%s%s", t.UTC().Format("20060102T150405Z"), id, c.Extension())
	if encrypted {
		name += EncryptedExtension
	}
	return name
}

// Publish archives the export files in dir. Only files belonging to the
// given tables are included; an empty list includes every export file.
func (p *Publisher) Publish(ctx context.Context, dir string, tables []string, opts Options) (*Result, error) {
	if opts.Compression == "" {
		opts.Compression = CompressionGzip
	}

	files, err := exportFiles(dir, tables)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeTableExport, "cannot read export directory "+dir, err)
	}
	if len(files) == 0 {
		return nil, errors.NewTableExportError("no export files to archive in " + dir)
	}

	done := p.logger.LogOperationStart("publish_archive", map[string]interface{}{
		"dir":         dir,
		"files":       len(files),
		"compression": string(opts.Compression),
		"encrypted":   opts.Passphrase != "",
	})

	result, err := p.publish(ctx, dir, files, opts)
	done(err)
	return result, err
}

func (p *Publisher) publish(ctx context.Context, dir string, files []string, opts Options) (*Result, error) {
	var buf bytes.Buffer
	raw, err := writeArchive(ctx, &buf, dir, files, opts.Compression)
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeTableExport, "failed to build archive", err)
	}

	data := buf.Bytes()
	encrypted := opts.Passphrase != ""
	if encrypted {
		if data, err = Encrypt(data, opts.Passphrase); err != nil {
			return nil, errors.NewAppError(errors.ErrorTypeTableExport, "failed to encrypt archive", err)
		}
	}

	result := &Result{
		Name:        ArchiveName(p.now(), p.newID(), opts.Compression, encrypted),
		Files:       files,
		RawSize:     raw,
		Size:        int64(len(data)),
		Compression: opts.Compression,
		Encrypted:   encrypted,
		DryRun:      opts.DryRun,
	}
	if opts.DryRun {
		return result, nil
	}

	location, err := p.store.Put(ctx, result.Name, data, map[string]string{
		"files":       fmt.Sprint(len(files)),
		"compression": string(opts.Compression),
		"encrypted":   fmt.Sprint(encrypted),
	})
	if err != nil {
		return nil, errors.NewAppError(errors.ErrorTypeTableExport, "failed to store archive", err)
	}
	result.Location = location

	p.logger.WithFields(map[string]interface{}{
		"archive":  result.Name,
		"location": location,
		"size":     result.Size,
	}).Info("Published export archive")

	return result, nil
}

// List returns the archives already in the store
func (p *Publisher) List(ctx context.Context) ([]Object, error) {
	return p.store.List(ctx)
}

// exportFiles returns the sorted export files of dir that belong to tables:
// <table>.csv, <table>.sql and <table>.schema.sql.
func exportFiles(dir string, tables []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	wanted := make(map[string]bool, len(tables))
	for _, t := range tables {
		wanted[t] = true
	}

	var files []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		var stem string
		switch {
		case strings.HasSuffix(name, ".schema.sql"):
			stem = strings.TrimSuffix(name, ".schema.sql")
		case strings.HasSuffix(name, ".csv"), strings.HasSuffix(name, ".sql"):
			stem = strings.TrimSuffix(name, filepath.Ext(name))
		default:
			continue
		}

		if len(wanted) == 0 || wanted[stem] {
			files = append(files, name)
		}
	}

	sort.Strings(files)
	return files, nil
}

// writeArchive streams the files into a compressed tar on w and returns the
// uncompressed payload size.
func writeArchive(ctx context.Context, w io.Writer, dir string, files []string, c Compression) (int64, error) {
	cw, err := NewWriter(w, c)
	if err != nil {
		return 0, err
	}
	tw := tar.NewWriter(cw)

	var total int64
	for _, name := range files {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := addFile(tw, filepath.Join(dir, name), name)
		if err != nil {
			return total, err
		}
		total += n
	}

	if err := tw.Close(); err != nil {
		return total, err
	}
	return total, cw.Close()
}

func addFile(tw *tar.Writer, path, name string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return 0, err
	}
	header.Name = name

	if err := tw.WriteHeader(header); err != nil {
		return 0, err
	}
	return io.Copy(tw, f)
}
