// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/holomush/authcore/internal/control"
)

// ProcessStatus is the health of a running authcore process.
type ProcessStatus struct {
	Component string `json:"component"`
	Addr      string `json:"addr"`
	Running   bool   `json:"running"`
	Health    string `json:"health,omitempty"`
	Error     string `json:"error,omitempty"`
}

type statusConfig struct {
	jsonOutput bool
	timeout    time.Duration
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running authcore process",
		Long: `Query the gRPC health service on the control address. Exits non-zero
when the process is not serving.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "health check timeout")

	return cmd
}

func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	appCfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	addr := appCfg.Observability.ControlAddr
	if addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("observability.control_addr is empty")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.timeout)
	defer cancel()
	status := queryStatus(ctx, addr)

	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
		}
		cmd.Println(string(data))
	} else {
		cmd.Print(formatStatusTable(status))
	}

	if !status.Running || status.Health != healthpb.HealthCheckResponse_SERVING.String() {
		return oops.Code("STATUS_NOT_SERVING").With("addr", addr).Errorf("%s is not serving", componentName)
	}
	return nil
}

func queryStatus(ctx context.Context, addr string) ProcessStatus {
	status := ProcessStatus{Component: componentName, Addr: addr}
	health, err := control.CheckHealth(ctx, addr, componentName)
	if err != nil {
		status.Error = err.Error()
		return status
	}
	status.Running = true
	status.Health = health.String()
	return status
}

func formatStatusTable(status ProcessStatus) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "PROCESS\tADDR\tSTATUS\tHEALTH")
	if status.Running {
		_, _ = fmt.Fprintf(w, "%s\t%s\trunning\t%s\n", status.Component, status.Addr, status.Health)
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\tstopped\t%s\n", status.Component, status.Addr, reason)
	}

	_ = w.Flush()
	return buf.String()
}
