package sampling

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codeatlas-io/codeatlas-engine/pkg/apperrors"
	"github.com/codeatlas-io/codeatlas-engine/pkg/config"
)

func TestSafeIdent(t *testing.T) {
	valid := []string{"orders", "ORDERS", "_tmp", "tab$1", "emp#2", "a_b_c"}
	for _, ident := range valid {
		assert.NoError(t, safeIdent(ident), ident)
	}

	invalid := []string{
		"",
		"1orders",
		"orders; DROP TABLE users",
		`orders" --`,
		"orders'||'x",
		"sales.orders", // qualification happens outside the identifier
		"order s",
	}
	for _, ident := range invalid {
		assert.Error(t, safeIdent(ident), ident)
	}
}

func TestNewFromConfig(t *testing.T) {
	logger := zap.NewNop()

	s, err := NewFromConfig(&config.SamplerConfig{Endpoint: "http://sampler:8000"}, logger)
	require.NoError(t, err)
	assert.IsType(t, &HTTPSampler{}, s)

	_, err = NewFromConfig(&config.SamplerConfig{}, logger)
	assert.ErrorIs(t, err, apperrors.ErrSamplerUnavailable)

	// Callers match the sentinel with errors.Is, so a wrapped form still
	// means "no sampler configured".
	assert.ErrorIs(t, fmt.Errorf("sampler init: %w", err), apperrors.ErrSamplerUnavailable)
}
