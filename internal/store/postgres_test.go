// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/internal/store"
	"github.com/holomush/authcore/pkg/errutil"
)

func TestConnect_InvalidDSN(t *testing.T) {
	_, err := store.Connect(context.Background(), "postgres://%zz", store.ConnectOptions{}, logging.Discard())
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "DB_CONFIG_INVALID")
}
