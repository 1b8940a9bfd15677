package crawler

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/booking"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/normalize"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/sites"
)

// pagedDataKey is where dmxConnect paged queries nest their rows when the
// results key holds an object instead of a list.
const pagedDataKey = "data"

// Controller drives the per-source crawl state machine: build a query page,
// classify its rows into records or detail lookups, then decide whether to
// continue. It performs no I/O and keeps no mutable state, so one Controller
// serves every source concurrently.
type Controller struct {
	registry *sites.Registry
	logger   *zap.Logger
}

// NewController builds a Controller over registry.
func NewController(registry *sites.Registry, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		registry: registry,
		logger:   logger.Named("controller"),
	}
}

// Start returns the cursor for the first page of source.
func (c *Controller) Start(source string) (Cursor, error) {
	cfg, err := c.registry.Lookup(source)
	if err != nil {
		return Cursor{}, fmt.Errorf("start %s: %w", source, err)
	}
	return Cursor{PageSize: cfg.PageSize}, nil
}

// BuildQuery builds the roster page request for cursor. The page size is
// always sent; the offset only after the first page.
func (c *Controller) BuildQuery(source string, cursor Cursor) (FetchRequest, error) {
	cfg, err := c.registry.Lookup(source)
	if err != nil {
		return FetchRequest{}, fmt.Errorf("build query for %s: %w", source, err)
	}
	if cursor.PageSize <= 0 {
		cursor.PageSize = cfg.PageSize
	}

	params := url.Values{}
	params.Set(cfg.LimitParam, strconv.Itoa(cursor.PageSize))
	if cursor.Offset > 0 {
		params.Set(cfg.OffsetParam, strconv.Itoa(cursor.Offset))
	}
	if cfg.Filter != "" {
		params.Set(sites.KeyFilter, cfg.Filter)
	}

	req := FetchRequest{
		Source: cfg.Name,
		Kind:   KindQuery,
		Method: cfg.Method,
		Cursor: cursor,
	}
	if cfg.Method == http.MethodPost {
		req.URL = cfg.QueryURL()
		req.Form = params
		return req, nil
	}
	if req.URL, err = withQuery(cfg.QueryURL(), params); err != nil {
		return FetchRequest{}, fmt.Errorf("build query for %s: %w", source, err)
	}
	return req, nil
}

// BuildDetail builds the lookup for one identifier-only row. The identifier
// is sent under the lower-cased identifier field name.
func (c *Controller) BuildDetail(source, id string) (FetchRequest, error) {
	cfg, err := c.registry.Lookup(source)
	if err != nil {
		return FetchRequest{}, fmt.Errorf("build detail for %s: %w", source, err)
	}
	return detailRequest(cfg, id)
}

// OnQueryResponse classifies the rows of one roster page and applies the
// termination rule. The returned cursor has Done set once the source is
// exhausted or the page could not be read; in the latter case the error is an
// *normalize.InvalidResponseError.
func (c *Controller) OnQueryResponse(resp FetchResponse, source string, cursor Cursor) ([]Emission, Cursor, error) {
	cfg, err := c.registry.Lookup(source)
	if err != nil {
		cursor.Done = true
		return nil, cursor, fmt.Errorf("query response for %s: %w", source, err)
	}
	if cursor.PageSize <= 0 {
		cursor.PageSize = cfg.PageSize
	}

	v, err := normalize.Normalize(resp.URL, resp.Body)
	if err != nil {
		cursor.Done = true
		return nil, cursor, err
	}
	page, err := readPage(cfg, resp.URL, v)
	if err != nil {
		cursor.Done = true
		return nil, cursor, err
	}
	if page.hasTotal {
		cursor.Total = page.total
		cursor.TotalKnown = true
	}

	logger := c.logger.With(zap.String("source", cfg.Name), zap.Int("offset", cursor.Offset))
	emissions := make([]Emission, 0, len(page.rows)+1)
	for i, row := range page.rows {
		obj, ok := normalize.Object(row)
		if !ok {
			logger.Warn("skipping non-object row", zap.Int("row", i))
			continue
		}
		if IsCompleteRow(obj) {
			emissions = append(emissions, Emission{Kind: EmitRecord, Record: booking.RawRecord(obj)})
			continue
		}
		id, ok := identifier(obj, cfg.IdentifierField)
		if !ok {
			logger.Warn("skipping row without identifier",
				zap.Int("row", i),
				zap.String("identifier_field", cfg.IdentifierField),
			)
			continue
		}
		req, err := detailRequest(cfg, id)
		if err != nil {
			logger.Warn("skipping row with unusable identifier", zap.String("id", id), zap.Error(err))
			continue
		}
		emissions = append(emissions, Emission{Kind: EmitDetail, Request: req})
	}

	next, more := cursor.Next()
	if !more {
		return emissions, next, nil
	}
	req, err := c.BuildQuery(cfg.Name, next)
	if err != nil {
		next.Done = true
		return emissions, next, err
	}
	return append(emissions, Emission{Kind: EmitQuery, Request: req}), next, nil
}

// OnDetailResponse extracts the single record carried by a detail response.
// Sources disagree on whether the record is wrapped in a one-element list, so
// the value under the record key is unwrapped first.
func (c *Controller) OnDetailResponse(resp FetchResponse, source string) (booking.RawRecord, error) {
	cfg, err := c.registry.Lookup(source)
	if err != nil {
		return nil, fmt.Errorf("detail response for %s: %w", source, err)
	}
	v, err := normalize.Normalize(resp.URL, resp.Body)
	if err != nil {
		return nil, err
	}
	if cfg.RecordKey != "" {
		obj, ok := normalize.Object(v)
		if !ok {
			return nil, &normalize.InvalidResponseError{URL: resp.URL, Reason: "detail payload is not an object"}
		}
		if v, ok = normalize.Field(obj, cfg.RecordKey); !ok {
			return nil, &normalize.InvalidResponseError{
				URL:    resp.URL,
				Reason: fmt.Sprintf("missing record key %q", cfg.RecordKey),
			}
		}
	}
	rec, ok := normalize.Object(normalize.UnwrapSingleton(v))
	if !ok {
		return nil, &normalize.InvalidResponseError{URL: resp.URL, Reason: "detail record is empty or not an object"}
	}
	return booking.RawRecord(rec), nil
}

// IsCompleteRow reports whether a roster row already carries the booking
// fields. Rows holding only the identifier need a detail fetch.
func IsCompleteRow(row map[string]any) bool {
	return len(row) > 1
}

type page struct {
	rows     []any
	total    int
	hasTotal bool
}

func readPage(cfg sites.SiteConfig, rawURL string, v normalize.Value) (page, error) {
	invalid := func(reason string, err error) (page, error) {
		return page{}, &normalize.InvalidResponseError{URL: rawURL, Reason: reason, Err: err}
	}

	obj, ok := normalize.Object(v)
	if !ok {
		if list, isList := v.([]any); isList {
			return page{rows: list}, nil
		}
		return invalid("query payload is neither an object nor a list", nil)
	}
	results, ok := normalize.Field(obj, cfg.ResultsKey)
	if !ok {
		return invalid(fmt.Sprintf("missing results key %q", cfg.ResultsKey), nil)
	}

	var p page
	var err error
	if p.total, p.hasTotal, err = readTotal(obj, cfg.TotalKey); err != nil {
		return invalid("unreadable total", err)
	}

	switch r := results.(type) {
	case nil:
	case []any:
		p.rows = r
	case map[string]any:
		data, _ := normalize.Field(r, pagedDataKey)
		list, isList := data.([]any)
		if data != nil && !isList {
			return invalid(fmt.Sprintf("results key %q holds no row list", cfg.ResultsKey), nil)
		}
		p.rows = list
		total, hasTotal, err := readTotal(r, cfg.TotalKey)
		if err != nil {
			return invalid("unreadable total", err)
		}
		if hasTotal {
			p.total, p.hasTotal = total, true
		}
	default:
		return invalid(fmt.Sprintf("results key %q holds %T", cfg.ResultsKey, results), nil)
	}
	return p, nil
}

func readTotal(obj map[string]any, key string) (int, bool, error) {
	if key == "" {
		return 0, false, nil
	}
	v, ok := normalize.Field(obj, key)
	if !ok || v == nil {
		return 0, false, nil
	}
	total, err := cast.ToIntE(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	if total < 0 {
		return 0, false, fmt.Errorf("%s: negative total %d", key, total)
	}
	return total, true, nil
}

func identifier(row map[string]any, field string) (string, bool) {
	v, ok := normalize.Field(row, field)
	if !ok || v == nil {
		return "", false
	}
	id, err := cast.ToStringE(v)
	if err != nil {
		return "", false
	}
	id = strings.TrimSpace(id)
	return id, id != ""
}

func detailRequest(cfg sites.SiteConfig, id string) (FetchRequest, error) {
	params := url.Values{}
	params.Set(strings.ToLower(cfg.IdentifierField), id)
	target, err := withQuery(cfg.DetailURL(), params)
	if err != nil {
		return FetchRequest{}, err
	}
	return FetchRequest{
		Source:     cfg.Name,
		Kind:       KindDetail,
		Method:     http.MethodGet,
		URL:        target,
		Identifier: id,
	}, nil
}

func withQuery(rawURL string, params url.Values) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
