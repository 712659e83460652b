// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/authcore/internal/control"
	"github.com/holomush/authcore/internal/logging"
	"github.com/holomush/authcore/pkg/errutil"
)

func startControl(t *testing.T, serving bool) string {
	t.Helper()
	srv, err := control.NewGRPCServer(componentName, logging.Discard())
	require.NoError(t, err)
	_, err = srv.Start("127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(ctx)
	})
	srv.SetServing(serving)
	return srv.Addr()
}

// unusedAddr returns an address nothing listens on.
func unusedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func TestStatus_Serving(t *testing.T) {
	isolateEnv(t)
	addr := startControl(t, true)

	out, err := execute(t, NewStatusCmd(), "--control-addr", addr)
	require.NoError(t, err)
	assert.Contains(t, out, "PROCESS")
	assert.Contains(t, out, "running")
	assert.Contains(t, out, "SERVING")
}

func TestStatus_JSON(t *testing.T) {
	isolateEnv(t)
	addr := startControl(t, true)

	out, err := execute(t, NewStatusCmd(), "--control-addr", addr, "--json")
	require.NoError(t, err)

	var status ProcessStatus
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, ProcessStatus{Component: componentName, Addr: addr, Running: true, Health: "SERVING"}, status)
}

func TestStatus_NotServing(t *testing.T) {
	isolateEnv(t)
	addr := startControl(t, false)

	out, err := execute(t, NewStatusCmd(), "--control-addr", addr)
	errutil.AssertErrorCode(t, err, "STATUS_NOT_SERVING")
	assert.Contains(t, out, "NOT_SERVING")
}

func TestStatus_Unreachable(t *testing.T) {
	isolateEnv(t)
	addr := unusedAddr(t)

	out, err := execute(t, NewStatusCmd(), "--control-addr", addr, "--timeout", "500ms")
	errutil.AssertErrorCode(t, err, "STATUS_NOT_SERVING")
	assert.Contains(t, out, "stopped")
}

func TestFormatStatusTable(t *testing.T) {
	out := formatStatusTable(ProcessStatus{Component: "authcore", Addr: "127.0.0.1:9101"})
	assert.Contains(t, out, "not running")
}
