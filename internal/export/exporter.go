package export

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/content-crawler/internal/crawler"
	"github.com/JakeFAU/content-crawler/internal/metrics"
)

// ScopeAll is the path segment used when an export spans every source.
const ScopeAll = "all"

// Artifact describes a written export.
type Artifact struct {
	URI     string `json:"uri"`
	Path    string `json:"path"`
	Format  Format `json:"format"`
	Records int    `json:"records"`
}

// Exporter writes record artifacts to a blob store under
// {prefix}/{source|all}/{name}.{ext}.
type Exporter struct {
	blobs  crawler.BlobStore
	prefix string
	logger *zap.Logger
}

// NewExporter builds an Exporter. A nil logger disables logging.
func NewExporter(blobs crawler.BlobStore, prefix string, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{blobs: blobs, prefix: strings.Trim(prefix, "/"), logger: logger}
}

// Path returns the artifact path for a scope and name.
func (e *Exporter) Path(format Format, source crawler.Source, name string) string {
	scope := string(source)
	if scope == "" {
		scope = ScopeAll
	}
	file := name + "." + format.Extension()
	if e.prefix == "" {
		return path.Join(scope, file)
	}
	return path.Join(e.prefix, scope, file)
}

// Export encodes records and stores them. An empty source scopes the
// artifact to all sources.
func (e *Exporter) Export(
	ctx context.Context,
	format Format,
	source crawler.Source,
	name string,
	records []crawler.Record,
) (Artifact, error) {
	if e.blobs == nil {
		return Artifact{}, fmt.Errorf("%w: no blob store configured", crawler.ErrConfig)
	}
	if strings.TrimSpace(name) == "" {
		return Artifact{}, fmt.Errorf("export name is required")
	}
	var buf bytes.Buffer
	if err := Write(&buf, format, records); err != nil {
		return Artifact{}, err
	}
	p := e.Path(format, source, name)
	uri, err := e.blobs.PutObject(ctx, p, format.ContentType(), &buf)
	if err != nil {
		return Artifact{}, fmt.Errorf("store export %s: %w", p, err)
	}
	metrics.ObserveExport(string(format))
	e.logger.Info("Export written",
		zap.String("uri", uri),
		zap.String("format", string(format)),
		zap.Int("records", len(records)))
	return Artifact{URI: uri, Path: p, Format: format, Records: len(records)}, nil
}
