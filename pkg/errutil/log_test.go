// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/pkg/errutil"
)

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("TEST_ERROR").
		With("key", "value").
		Errorf("something failed")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Equal(t, "operation failed", logEntry["msg"])
	assert.Equal(t, "TEST_ERROR", logEntry["code"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := errors.New("standard error")

	errutil.LogError(logger, "operation failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "ERROR", logEntry["level"])
	assert.Contains(t, logEntry["error"], "standard error")
}

func TestLogErrorContext_PassesContextToHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("CTX_ERROR").With("user_id", "01ABC").Errorf("lookup failed")

	errutil.LogErrorContext(context.Background(), logger, "lookup failed", err)

	var logEntry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &logEntry))
	assert.Equal(t, "CTX_ERROR", logEntry["code"])
	fields, ok := logEntry["context"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "01ABC", fields["user_id"])
}

func TestAttrs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKeys []any
	}{
		{"plain error", errors.New("boom"), []any{"error"}},
		{"oops without code", oops.Errorf("boom"), []any{"error"}},
		{"oops with code and context", oops.Code("X").With("k", 1).Errorf("boom"), []any{"error", "code", "context"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			attrs := errutil.Attrs(tt.err)
			var keys []any
			for i := 0; i < len(attrs); i += 2 {
				keys = append(keys, attrs[i])
			}
			assert.Equal(t, tt.wantKeys, keys)
		})
	}
}
