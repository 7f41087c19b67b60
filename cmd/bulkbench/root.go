// Copyright 2022 MatrixOrigin.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"io"

	"github.com/spf13/cobra"

	"github.com/matrixorigin/bulkcube/grafana"
)

func newRootCommand(out io.Writer) *cobra.Command {
	b := newBencher(out)
	cmd := &cobra.Command{
		Use:   "bulkbench",
		Short: "Run bulk operations against an in-memory partitioned cluster.",
		Long: `
Submits operations through the bulk executor to a simulated cluster, and
reports throughput, latency percentiles and retries. A partition can be split
while the benchmark runs.
`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return b.run(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&b.configFile, "config", "c", "", "toml config file, defaults are used if empty")
	flags.IntVarP(&b.operations, "num", "n", 10000, "number of operations")
	flags.IntVarP(&b.workers, "workers", "w", 8, "number of submitting workers")
	flags.IntVarP(&b.partitions, "partitions", "p", 4, "number of partitions of the collection")
	flags.IntVar(&b.tenants, "tenants", 100, "number of distinct partition keys")
	flags.IntVar(&b.splitAfter, "split-after", 0, "split the first partition after this many operations, 0 disables")
	flags.DurationVar(&b.latency, "latency", 0, "simulated latency of every request")
	flags.BoolVar(&b.tcp, "tcp", false, "serve the cluster over the tcp transport")
	flags.StringVar(&b.addr, "addr", "127.0.0.1:9527", "listen address of the tcp transport")
	flags.StringVar(&b.logLevel, "log-level", "warn", "log level")

	cmd.AddCommand(newDashboardCommand())
	return cmd
}

func newDashboardCommand() *cobra.Command {
	var grafanaURL, apiKey, dataSource string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Create or update the bulk execution dashboard in grafana.",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := grafana.NewDashboardCreator(nil, grafanaURL, apiKey, dataSource)
			return c.Create(cmd.Context())
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&grafanaURL, "grafana", "http://127.0.0.1:3000", "grafana address")
	flags.StringVar(&apiKey, "api-key", "", "grafana api key")
	flags.StringVar(&dataSource, "data-source", "Prometheus", "prometheus data source name")
	return cmd
}
