// Package sampling fetches sample rows for the enrichment phase, either
// through an external Text-to-SQL endpoint or a direct database connection.
package sampling

import (
	"context"
	"fmt"
	"regexp"

	libinjection "github.com/corazawaf/libinjection-go"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
)

// Sampler fetches sample data from the analysed database.
type Sampler interface {
	// Ping checks reachability. Enrichment calls it once; an unreachable
	// sampler aborts the whole enrichment phase, not the run.
	Ping(ctx context.Context) error

	// SampleRows returns up to limit rows of a table.
	SampleRows(ctx context.Context, schema, table string, limit int) ([]map[string]any, error)

	// SampleColumn returns up to limit distinct values of one column, used
	// for foreign-key value-overlap checks.
	SampleColumn(ctx context.Context, schema, table, column string, limit int) ([]any, error)

	Close(ctx context.Context) error
}

// NewFromConfig picks the sampler implementation: the Text-to-SQL endpoint
// when configured, a direct connection when a DSN is given, otherwise
// ErrSamplerUnavailable so enrichment skips sampling entirely.
func NewFromConfig(cfg *config.SamplerConfig, logger *zap.Logger) (Sampler, error) {
	switch {
	case cfg.Endpoint != "":
		return NewHTTPSampler(cfg.Endpoint, logger), nil
	case cfg.DSN != "":
		return NewDirectSampler(cfg.Driver, cfg.DSN, logger)
	default:
		return nil, apperrors.ErrSamplerUnavailable
	}
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$#]*$`)

// safeIdent validates an identifier before it is interpolated into a
// sampling query. Identifiers come from the graph, which in turn holds
// LLM-extracted names, so they are treated as untrusted input.
func safeIdent(ident string) error {
	if !identRe.MatchString(ident) {
		return fmt.Errorf("unsafe identifier %q", ident)
	}
	if sqli, _ := libinjection.IsSQLi(ident); sqli {
		return fmt.Errorf("identifier %q rejected as SQL injection", ident)
	}
	return nil
}
