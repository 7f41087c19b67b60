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

package metric

import (
	"context"
	"time"

	"github.com/matrixorigin/bulkcube/components/log"
	"github.com/matrixorigin/bulkcube/util/stop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// StartPush start push metric, the push loop runs as a task of the stopper
func StartPush(cfg Cfg, stopper *stop.Stopper, logger *zap.Logger) error {
	logger = log.Adjust(logger).Named("metric")
	if cfg.Interval.Duration == 0 || cfg.Addr == "" || cfg.Job == "" {
		return nil
	}

	logger.Info("start push metric to prometheus pushgateway",
		zap.String("job", cfg.Job),
		zap.String("addr", cfg.Addr),
		zap.Duration("interval", cfg.Interval.Duration))

	pusher := push.New(cfg.Addr, cfg.Job).
		Gatherer(prometheus.DefaultGatherer).
		Grouping("instance", cfg.instance())
	return stopper.RunNamedTask(context.Background(), "metric-push", func(ctx context.Context) {
		timer := time.NewTicker(cfg.Interval.Duration)
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
				if err := pusher.Push(); err != nil {
					logger.Error("fail to push metric",
						zap.String("addr", cfg.Addr),
						zap.Error(err))
				}
			}
		}
	})
}
