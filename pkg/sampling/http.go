package sampling

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPSampler fetches rows through the external Text-to-SQL service:
// GET /health for reachability, POST /direct_sql for raw sampling queries.
type HTTPSampler struct {
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPSampler creates a sampler against the Text-to-SQL endpoint.
func NewHTTPSampler(endpoint string, logger *zap.Logger) *HTTPSampler {
	return &HTTPSampler{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   &http.Client{Timeout: 60 * time.Second},
		logger:   logger.Named("http-sampler"),
	}
}

var _ Sampler = (*HTTPSampler)(nil)

// Ping checks the service health endpoint.
func (s *HTTPSampler) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("sampler health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("sampler health check: status %d", resp.StatusCode)
	}
	return nil
}

// SampleRows fetches up to limit rows of a table.
func (s *HTTPSampler) SampleRows(ctx context.Context, schema, table string, limit int) ([]map[string]any, error) {
	if err := safeIdent(schema); err != nil {
		return nil, err
	}
	if err := safeIdent(table); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT * FROM "%s"."%s" LIMIT %d`, schema, table, limit)
	return s.directSQL(ctx, sql)
}

// SampleColumn fetches up to limit distinct values of one column.
func (s *HTTPSampler) SampleColumn(ctx context.Context, schema, table, column string, limit int) ([]any, error) {
	if err := safeIdent(schema); err != nil {
		return nil, err
	}
	if err := safeIdent(table); err != nil {
		return nil, err
	}
	if err := safeIdent(column); err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT DISTINCT "%s" FROM "%s"."%s" WHERE "%s" IS NOT NULL LIMIT %d`,
		column, schema, table, column, limit)
	rows, err := s.directSQL(ctx, sql)
	if err != nil {
		return nil, err
	}

	values := make([]any, 0, len(rows))
	for _, row := range rows {
		for _, v := range row {
			values = append(values, v)
		}
	}
	return values, nil
}

// Close is a no-op; the sampler holds no connection state.
func (s *HTTPSampler) Close(context.Context) error { return nil }

type directSQLRequest struct {
	SQL string `json:"sql"`
}

type directSQLResponse struct {
	Rows  []map[string]any `json:"rows"`
	Error string           `json:"error,omitempty"`
}

func (s *HTTPSampler) directSQL(ctx context.Context, sql string) ([]map[string]any, error) {
	body, err := json.Marshal(directSQLRequest{SQL: sql})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/direct_sql", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sampler request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("sampler returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var parsed directSQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode sampler response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("sampler query failed: %s", parsed.Error)
	}

	s.logger.Debug("sampled rows", zap.Int("count", len(parsed.Rows)))
	return parsed.Rows, nil
}
