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

package routing

import (
	"context"
	"encoding/hex"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-resty/resty/v2"
	"github.com/matrixorigin/bulkcube/components/log"
	"go.uber.org/zap"
)

const (
	headerIfNoneMatch  = "If-None-Match"
	headerETag         = "ETag"
	headerMaxItemCount = "X-Max-Item-Count"
	headerFeedMode     = "A-IM"
	incrementalFeed    = "Incremental feed"

	defaultPageSize    = 100
	defaultHTTPTimeout = time.Second * 10
)

type rangesResponse struct {
	Ranges []rangeEntry `json:"PartitionKeyRanges"`
}

type rangeEntry struct {
	ID           string   `json:"id"`
	MinInclusive string   `json:"minInclusive"`
	MaxExclusive string   `json:"maxExclusive"`
	Parents      []string `json:"parents"`
	Address      string   `json:"address"`
}

// HTTPDiscovery reads the partition ranges feed of a REST endpoint:
//
//	GET {endpoint}/collections/{collection}/pkranges
//
// The continuation travels in If-None-Match and comes back in ETag, a 304
// response means nothing changed. Range boundaries are hex encoded.
type HTTPDiscovery struct {
	logger   *zap.Logger
	client   *resty.Client
	pageSize int
}

// NewHTTPDiscovery returns a discovery client of the endpoint
func NewHTTPDiscovery(endpoint string, pageSize int, timeout time.Duration, logger *zap.Logger) *HTTPDiscovery {
	logger = log.Adjust(logger).Named("discovery")
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}

	client := resty.New().
		SetLogger(logger.Sugar()).
		SetTimeout(timeout).
		SetBaseURL(endpoint).
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(json.Unmarshal)
	client.SetRetryCount(2).
		SetRetryWaitTime(time.Millisecond * 100).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// only connection errors, status codes are handled by the resolver
			return err != nil
		})

	return &HTTPDiscovery{
		logger:   logger,
		client:   client,
		pageSize: pageSize,
	}
}

// FetchRanges implements Discovery
func (d *HTTPDiscovery) FetchRanges(ctx context.Context, collection string, continuation string) (RangePage, error) {
	var result rangesResponse
	req := d.client.R().
		SetContext(ctx).
		SetPathParam("collection", collection).
		SetHeader(headerFeedMode, incrementalFeed).
		SetHeader(headerMaxItemCount, strconv.Itoa(d.pageSize)).
		SetResult(&result)
	if continuation != "" {
		req.SetHeader(headerIfNoneMatch, continuation)
	}

	resp, err := req.Get("/collections/{collection}/pkranges")
	if err != nil {
		return RangePage{}, errors.Wrapf(err, "request ranges of collection %s", collection)
	}

	switch resp.StatusCode() {
	case http.StatusNotModified:
		return RangePage{Continuation: continuation, NotModified: true, Final: true}, nil
	case http.StatusOK:
	default:
		return RangePage{}, errors.Newf("request ranges of collection %s failed with status %d: %s",
			collection, resp.StatusCode(), resp.String())
	}

	page := RangePage{
		Continuation: resp.Header().Get(headerETag),
		Final:        len(result.Ranges) < d.pageSize,
	}
	for _, entry := range result.Ranges {
		route, err := entry.route()
		if err != nil {
			return RangePage{}, errors.Wrapf(err, "range %s of collection %s", entry.ID, collection)
		}
		page.Ranges = append(page.Ranges, route)
	}
	return page, nil
}

func (e rangeEntry) route() (PartitionRoute, error) {
	start, err := hex.DecodeString(e.MinInclusive)
	if err != nil {
		return PartitionRoute{}, errors.Wrap(err, "decode min inclusive")
	}
	// "FF" is the conventional upper bound of the key space
	var end []byte
	if e.MaxExclusive != "" && e.MaxExclusive != "FF" {
		if end, err = hex.DecodeString(e.MaxExclusive); err != nil {
			return PartitionRoute{}, errors.Wrap(err, "decode max exclusive")
		}
	}
	return PartitionRoute{
		ID:      e.ID,
		Start:   start,
		End:     end,
		Parents: e.Parents,
		Address: e.Address,
	}, nil
}
