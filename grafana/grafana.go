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

package grafana

import (
	"context"
	"net/http"

	"github.com/K-Phoen/grabana"
	"github.com/K-Phoen/grabana/axis"
	"github.com/K-Phoen/grabana/graph"
	"github.com/K-Phoen/grabana/row"
	"github.com/K-Phoen/grabana/singlestat"
	"github.com/K-Phoen/grabana/table"
	"github.com/K-Phoen/grabana/target/prometheus"
	"github.com/K-Phoen/grabana/variable/interval"
)

var (
	folderName = "Bulkcube"
)

// DashboardCreator bulkcube grafana dashboard creator
type DashboardCreator struct {
	cli        *grabana.Client
	dataSource string
}

// NewDashboardCreator returns a dashboard creator
func NewDashboardCreator(client *http.Client, grafana, apiKey, dataSource string) *DashboardCreator {
	if client == nil {
		client = http.DefaultClient
	}
	return &DashboardCreator{
		cli:        grabana.NewClient(client, grafana, apiKey),
		dataSource: dataSource,
	}
}

// Create create or update the dashboard
func (c *DashboardCreator) Create(ctx context.Context) error {
	folder, err := c.createFolder(ctx)
	if err != nil {
		return err
	}

	return c.createBulkDashboard(ctx, folder)
}

func (c *DashboardCreator) createFolder(ctx context.Context) (*grabana.Folder, error) {
	folder, err := c.cli.GetFolderByTitle(ctx, folderName)
	if err != nil && err != grabana.ErrFolderNotFound {
		return nil, err
	}

	if folder == nil {
		folder, err = c.cli.CreateFolder(ctx, folderName)
		if err != nil {
			return nil, err
		}
	}

	return folder, nil
}

func (c *DashboardCreator) createBulkDashboard(ctx context.Context, folder *grabana.Folder) error {
	db := grabana.NewDashboardBuilder("Bulk Execution Status",
		grabana.AutoRefresh("5s"),
		grabana.Tags([]string{"generated"}),
		grabana.VariableAsInterval(
			"interval",
			interval.Values([]string{"30s", "1m", "5m", "10m", "30m", "1h", "6h", "12h"}),
		),
		c.overviewRow(),
		c.operationRow(),
		c.batchRow(),
		c.routingRow(),
		c.throttleRow())

	_, err := c.cli.UpsertDashboard(ctx, folder, db)
	return err
}

func (c *DashboardCreator) overviewRow() grabana.DashboardBuilderOption {
	return grabana.Row(
		"Overview",
		row.WithSingleStat(
			"Operations/s",
			singlestat.Height("200px"),
			singlestat.Span(4),
			singlestat.WithPrometheusTarget(
				"sum(rate(bulkcube_bulk_operation_total[1m]))"),
		),
		row.WithSingleStat(
			"Streamers",
			singlestat.Height("200px"),
			singlestat.Span(4),
			singlestat.WithPrometheusTarget(
				"sum(bulkcube_bulk_streamers)"),
		),
		row.WithSingleStat(
			"Pending timers",
			singlestat.Height("200px"),
			singlestat.Span(4),
			singlestat.WithPrometheusTarget(
				"sum(bulkcube_timewheel_pending_timers)"),
		),
	)
}

func (c *DashboardCreator) operationRow() grabana.DashboardBuilderOption {
	return grabana.Row(
		"Operations",
		c.withGraph("Completed operations", 6,
			"sum(rate(bulkcube_bulk_operation_total[$interval])) by (outcome)",
			"{{ outcome }}"),
		c.withGraph("Dispatched batches", 6,
			"sum(rate(bulkcube_bulk_batch_dispatched_total[$interval])) by (trigger)",
			"{{ trigger }}"),
	)
}

func (c *DashboardCreator) batchRow() grabana.DashboardBuilderOption {
	return grabana.Row(
		"Batches",
		c.withGraph("99% batch operations", 3,
			`histogram_quantile(0.99, sum(rate(bulkcube_bulk_batch_operations_bucket[$interval])) by (le, instance))`,
			"{{ instance }}", axis.Min(0)),
		c.withGraph("99% batch size", 3,
			`histogram_quantile(0.99, sum(rate(bulkcube_bulk_batch_bytes_bucket[$interval])) by (le, instance))`,
			"{{ instance }}", axis.Unit("bytes"), axis.Min(0)),
		c.withGraph("50% dispatch time", 3,
			`histogram_quantile(0.50, sum(rate(bulkcube_bulk_dispatch_duration_seconds_bucket[$interval])) by (le, instance))`,
			"{{ instance }}", axis.Unit("s"), axis.Min(0)),
		c.withGraph("99% dispatch time", 3,
			`histogram_quantile(0.99, sum(rate(bulkcube_bulk_dispatch_duration_seconds_bucket[$interval])) by (le, instance))`,
			"{{ instance }}", axis.Unit("s"), axis.Min(0)),
		c.withGraph("Overflow splits", 12,
			"sum(rate(bulkcube_bulk_batch_overflow_split_total[$interval]))",
			"splits"),
	)
}

func (c *DashboardCreator) routingRow() grabana.DashboardBuilderOption {
	return grabana.Row(
		"Routing",
		c.withGraph("Routing refreshes", 6,
			"sum(rate(bulkcube_routing_refresh_total[$interval])) by (result)",
			"{{ result }}"),
		c.withGraph("99% ranges fetch time", 6,
			`histogram_quantile(0.99, sum(rate(bulkcube_routing_fetch_duration_seconds_bucket[$interval])) by (le, instance))`,
			"{{ instance }}", axis.Unit("s"), axis.Min(0)),
	)
}

func (c *DashboardCreator) throttleRow() grabana.DashboardBuilderOption {
	return grabana.Row(
		"Throttle",
		c.withTable("Concurrency per partition", 12,
			"sum(bulkcube_throttle_partition_concurrency) by (partition)",
			"{{ partition }}"),
	)
}

func (c *DashboardCreator) withGraph(title string, span float32, pql string, legend string, opts ...axis.Option) row.Option {
	return row.WithGraph(
		title,
		graph.Span(span),
		graph.Height("400px"),
		graph.DataSource(c.dataSource),
		graph.WithPrometheusTarget(
			pql,
			prometheus.Legend(legend),
		),
		graph.LeftYAxis(opts...),
	)
}

func (c *DashboardCreator) withTable(title string, span float32, pql string, legend string) row.Option {
	return row.WithTable(
		title,
		table.Span(span),
		table.Height("400px"),
		table.DataSource(c.dataSource),
		table.WithPrometheusTarget(
			pql,
			prometheus.Legend(legend)),
		table.AsTimeSeriesAggregations([]table.Aggregation{
			{Label: "Current", Type: table.Current},
			{Label: "Max", Type: table.Max},
			{Label: "Min", Type: table.Min},
		}),
	)
}
