package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"canvas-aux/internal/errors"
	"canvas-aux/internal/logging"
)

// Fetcher downloads the catalog XML over HTTP
type Fetcher struct {
	URL    string
	client *http.Client
	retry  *errors.RetryHandler
	logger *logging.Logger
}

// NewFetcher creates a fetcher for url with the default retry policy
func NewFetcher(url string, logger *logging.Logger) *Fetcher {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Fetcher{
		URL:    url,
		client: &http.Client{Timeout: 2 * time.Minute},
		retry:  errors.NewDefaultRetryHandler(),
		logger: logger,
	}
}

// WithClient replaces the HTTP client
func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

// WithRetry replaces the retry policy
func (f *Fetcher) WithRetry(config errors.RetryConfig) *Fetcher {
	f.retry = errors.NewRetryHandler(config)
	return f
}

// Fetch downloads the catalog and writes it to w as CSV. Server errors and
// transport failures are retried; anything else fails at once.
func (f *Fetcher) Fetch(ctx context.Context, w io.Writer) (int, error) {
	if f.URL == "" {
		return 0, errors.NewConfigurationError("catalog_url is not configured", nil)
	}

	var body []byte
	err := f.retry.Retry(ctx, func() error {
		var fetchErr error
		body, fetchErr = f.get(ctx)
		return fetchErr
	})
	if err != nil {
		return 0, errors.NewExternalSourceError("failed to fetch catalog from "+f.URL, err)
	}

	count, err := ConvertXML(bytes.NewReader(body), w)
	if err != nil {
		return count, errors.NewExternalSourceError("failed to convert catalog", err)
	}

	f.logger.WithFields(map[string]interface{}{
		"url":     f.URL,
		"courses": count,
	}).Info("Fetched external catalog")
	return count, nil
}

func (f *Fetcher) get(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid catalog_url", err)
	}
	req.Header.Set("Accept", "application/xml, text/xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errors.NewRecoverableError(errors.ErrorTypeExternalSource, "catalog request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return nil, errors.NewRecoverableError(errors.ErrorTypeExternalSource,
			fmt.Sprintf("catalog server returned %s", resp.Status), nil)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.NewExternalSourceError(fmt.Sprintf("catalog server returned %s", resp.Status), nil)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.NewRecoverableError(errors.ErrorTypeExternalSource, "reading catalog response failed", err)
	}
	return body, nil
}

// Preparer writes the fetched catalog to a file before the catalog
// template's SQL loads it.
type Preparer struct {
	fetcher *Fetcher
	path    string
	logger  *logging.Logger
}

// NewPreparer creates a preparer writing to path
func NewPreparer(fetcher *Fetcher, path string, logger *logging.Logger) *Preparer {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Preparer{fetcher: fetcher, path: path, logger: logger}
}

// Path returns the file the catalog is written to
func (p *Preparer) Path() string {
	return p.path
}

// Prepare fetches the catalog into the target file. The previous file is
// replaced only after a complete download.
func (p *Preparer) Prepare(ctx context.Context, root string) error {
	done := p.logger.LogOperationStart("prepare_catalog", map[string]interface{}{
		"table": root,
		"path":  p.path,
	})

	err := p.write(ctx)
	done(err)
	if err != nil {
		return errors.WrapError(err, "failed to prepare catalog for "+root)
	}
	return nil
}

func (p *Preparer) write(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(p.path), 0755); err != nil {
		return errors.NewExternalSourceError("cannot create data directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), "."+filepath.Base(p.path)+".*.tmp")
	if err != nil {
		return errors.NewExternalSourceError("cannot create catalog file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := p.fetcher.Fetch(ctx, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return errors.NewExternalSourceError("cannot write catalog file", err)
	}
	if err := os.Rename(tmpName, p.path); err != nil {
		return errors.NewExternalSourceError("cannot replace catalog file", err)
	}
	return nil
}
