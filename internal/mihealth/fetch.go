package mihealth

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/phqovo/slimming/internal/logging"
	"github.com/phqovo/slimming/internal/models"
)

// Fetcher pulls one category of records from the platform, page by page,
// normalizing items as they arrive. Pagination follows the server cursor:
// keep requesting while has_more is set and a next_key is returned.
type Fetcher struct {
	client   *Client
	maxPages int
	logger   *logging.Logger
}

func NewFetcher(client *Client, maxPages int, logger *logging.Logger) *Fetcher {
	if maxPages <= 0 {
		maxPages = 1000
	}
	return &Fetcher{client: client, maxPages: maxPages, logger: logger}
}

// Session exposes the client's current session so callers can persist
// credentials rotated by a mid-fetch refresh.
func (f *Fetcher) Session() *Session {
	return f.client.Session()
}

// Pages returns an iterator over the records in [start, end] for the given
// user and category. The sequence is lazy and not restartable.
func (f *Fetcher) Pages(userID int64, category models.Category, start, end time.Time) (*PageIterator, error) {
	spec, err := specFor(category)
	if err != nil {
		return nil, err
	}
	return &PageIterator{
		fetcher:  f,
		spec:     spec,
		userID:   userID,
		category: category,
		start:    start.Unix(),
		end:      end.Unix(),
	}, nil
}

// PageIterator yields one platform page of normalized records per Next call.
type PageIterator struct {
	fetcher  *Fetcher
	spec     categorySpec
	userID   int64
	category models.Category
	start    int64
	end      int64

	nextKey string
	page    int
	done    bool
}

type pageResult struct {
	HasMore bool   `json:"has_more"`
	NextKey string `json:"next_key"`
}

// Next fetches and normalizes the next page. It returns ok=false once the
// cursor is exhausted. Items that fail to parse are skipped, not fatal: one
// malformed record must not abort a multi-thousand-record backfill.
func (it *PageIterator) Next(ctx context.Context) ([]models.NormalizedRecord, bool, error) {
	if it.done {
		return nil, false, nil
	}
	if it.page >= it.fetcher.maxPages {
		it.done = true
		return nil, false, fmt.Errorf("page limit %d exceeded for %s", it.fetcher.maxPages, it.category)
	}

	params, err := it.requestParams()
	if err != nil {
		return nil, false, err
	}

	result, err := it.fetcher.client.Invoke(ctx, it.spec.endpoint, params)
	if err != nil {
		it.done = true
		return nil, false, err
	}
	it.page++

	var cursor pageResult
	if err := json.Unmarshal(result, &cursor); err != nil {
		it.done = true
		return nil, false, err
	}

	var listWrapper map[string]json.RawMessage
	if err := json.Unmarshal(result, &listWrapper); err != nil {
		it.done = true
		return nil, false, err
	}

	var items []json.RawMessage
	if rawList, ok := listWrapper[it.spec.listKey]; ok {
		if err := json.Unmarshal(rawList, &items); err != nil {
			it.done = true
			return nil, false, err
		}
	}

	records := make([]models.NormalizedRecord, 0, len(items))
	for _, raw := range items {
		record, err := normalizeItem(it.userID, it.category, raw)
		if err != nil {
			if it.fetcher.logger != nil {
				it.fetcher.logger.WarnWithContext(ctx, "skipping malformed record",
					"category", string(it.category), "error", err.Error())
			}
			continue
		}
		records = append(records, record)
	}

	if !cursor.HasMore || cursor.NextKey == "" {
		it.done = true
	} else {
		it.nextKey = cursor.NextKey
	}
	return records, true, nil
}

func (it *PageIterator) requestParams() (string, error) {
	params := map[string]any{
		"start_time": it.start,
		"end_time":   it.end,
	}
	if it.spec.paramKey != "" {
		params["key"] = it.spec.paramKey
	}
	if it.nextKey != "" {
		params["next_key"] = it.nextKey
	}
	encoded, err := json.Marshal(params)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
