package crawler

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/normalize"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/sites"
)

func newTestController(t *testing.T, entries map[string]sites.Entry) *Controller {
	t.Helper()
	if entries == nil {
		entries = map[string]sites.Entry{
			"Test": {sites.KeyBaseURL: "https://roster.example.com"},
		}
	}
	reg, err := sites.NewRegistry(entries)
	require.NoError(t, err)
	return NewController(reg, zap.NewNop())
}

func TestIsCompleteRow(t *testing.T) {
	t.Parallel()

	assert.False(t, IsCompleteRow(map[string]any{}))
	assert.False(t, IsCompleteRow(map[string]any{"BookingID": "1"}))
	assert.True(t, IsCompleteRow(map[string]any{"BookingID": "1", "FName": "A"}))
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)

	first, err := c.BuildQuery("Test", Cursor{PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, KindQuery, first.Kind)
	assert.Equal(t, http.MethodGet, first.Method)
	assert.Equal(t, "https://roster.example.com/dmxConnect/api/Booking/Read2.php?limit=100", first.URL)

	second, err := c.BuildQuery("Test", Cursor{Offset: 100, PageSize: 100})
	require.NoError(t, err)
	assert.Equal(t, "https://roster.example.com/dmxConnect/api/Booking/Read2.php?limit=100&offset=100", second.URL)
	assert.Equal(t, 100, second.Cursor.Offset)

	defaulted, err := c.BuildQuery("test", Cursor{})
	require.NoError(t, err)
	assert.Equal(t, "Test", defaulted.Source)
	assert.Equal(t, sites.DefaultPageSize, defaulted.Cursor.PageSize)
}

func TestBuildQueryPostForm(t *testing.T) {
	t.Parallel()

	c := newTestController(t, map[string]sites.Entry{
		"Posty": {
			sites.KeyBaseURL:       "https://post.example.com/",
			sites.KeyQueryEndpoint: "/api/search",
			sites.KeyMethod:        "post",
			sites.KeyLimitParam:    "take",
			sites.KeyOffsetParam:   "skip",
			sites.KeyFilter:        "active",
			sites.KeyPageSize:      "25",
		},
	})

	req, err := c.BuildQuery("Posty", Cursor{Offset: 50, PageSize: 25})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "https://post.example.com/api/search", req.URL)
	assert.Equal(t, "25", req.Form.Get("take"))
	assert.Equal(t, "50", req.Form.Get("skip"))
	assert.Equal(t, "active", req.Form.Get("filter"))
}

func TestBuildQueryUnknownSource(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	_, err := c.BuildQuery("Nowhere", Cursor{})
	var unknown *sites.UnknownSourceError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "Nowhere", unknown.Source)
}

func TestOnQueryResponseIdentifierOnlyRows(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	cursor, err := c.Start("Test")
	require.NoError(t, err)

	emissions, next, err := c.OnQueryResponse(FetchResponse{
		URL:  "https://roster.example.com/q",
		Body: []byte(`{"query": [{"BookingID": "13826"}]}`),
	}, "Test", cursor)
	require.NoError(t, err)
	require.Len(t, emissions, 1)

	detail := emissions[0]
	assert.Equal(t, EmitDetail, detail.Kind)
	assert.Nil(t, detail.Record)
	assert.Equal(t, KindDetail, detail.Request.Kind)
	assert.Equal(t, "13826", detail.Request.Identifier)
	assert.Equal(t,
		"https://roster.example.com/dmxConnect/api/Booking/getbookie.php?bookingid=13826",
		detail.Request.URL,
	)
	assert.True(t, next.Done, "a page without a total is the only page")
}

func TestOnQueryResponseCompleteRows(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	body := []byte(`{"total": 2, "query": [
		{"BookingID": 1, "FName": "A"},
		{"BookingID": 2, "FName": "B"},
		"junk",
		{}
	]}`)
	emissions, next, err := c.OnQueryResponse(FetchResponse{URL: "u", Body: body}, "Test", Cursor{PageSize: 100})
	require.NoError(t, err)
	require.Len(t, emissions, 2)
	for _, e := range emissions {
		assert.Equal(t, EmitRecord, e.Kind)
		assert.NotNil(t, e.Record)
	}
	assert.Equal(t, "A", emissions[0].Record["FName"])
	assert.True(t, next.Done)
	assert.Equal(t, 2, next.Total)
}

func TestOnQueryResponsePagination(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	cursor, err := c.Start("Test")
	require.NoError(t, err)

	var dispatched []int
	req, err := c.BuildQuery("Test", cursor)
	require.NoError(t, err)
	for !cursor.Done {
		require.Less(t, len(dispatched), 10, "pagination did not terminate")
		dispatched = append(dispatched, req.Cursor.Offset)

		body := []byte(`{"total": 250, "query": []}`)
		if len(dispatched) > 1 {
			// later pages may omit the total
			body = []byte(`{"query": []}`)
		}
		var emissions []Emission
		emissions, cursor, err = c.OnQueryResponse(FetchResponse{URL: req.URL, Body: body}, "Test", req.Cursor)
		require.NoError(t, err)
		if cursor.Done {
			assert.Empty(t, emissions)
			break
		}
		require.Len(t, emissions, 1)
		require.Equal(t, EmitQuery, emissions[0].Kind)
		req = emissions[0].Request
	}
	assert.Equal(t, []int{0, 100, 200}, dispatched)
}

func TestOnQueryResponseExactBoundaryContinues(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	emissions, next, err := c.OnQueryResponse(FetchResponse{
		URL:  "u",
		Body: []byte(`{"total": "200", "query": []}`),
	}, "Test", Cursor{Offset: 100, PageSize: 100, Total: 200, TotalKnown: true})
	require.NoError(t, err)
	assert.False(t, next.Done)
	assert.Equal(t, 200, next.Offset)
	require.Len(t, emissions, 1)
	assert.Contains(t, emissions[0].Request.URL, "offset=200")
}

func TestOnQueryResponseRedeclaredTotal(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	tests := []struct {
		name      string
		body      string
		wantDone  bool
		wantTotal int
	}{
		{name: "shrunk below next page", body: `{"total": 150, "query": []}`, wantDone: true, wantTotal: 150},
		{name: "grown", body: `{"total": 1000, "query": []}`, wantDone: false, wantTotal: 1000},
		{name: "omitted keeps first total", body: `{"query": []}`, wantDone: false, wantTotal: 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			// second page of a source whose first page declared 500 rows
			emissions, next, err := c.OnQueryResponse(
				FetchResponse{URL: "u", Body: []byte(tt.body)},
				"Test",
				Cursor{Offset: 100, PageSize: 100, Total: 500, TotalKnown: true},
			)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDone, next.Done)
			assert.Equal(t, tt.wantTotal, next.Total)
			if tt.wantDone {
				assert.Empty(t, emissions)
				return
			}
			require.Len(t, emissions, 1)
			assert.Equal(t, 200, emissions[0].Request.Cursor.Offset)
		})
	}
}

func TestOnQueryResponseLargeNumericIdentifier(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	emissions, _, err := c.OnQueryResponse(FetchResponse{
		URL:  "u",
		Body: []byte(`{"query": [{"BookingID": 12345678901234567}, {"BookingID": 20250001234567891234}]}`),
	}, "Test", Cursor{PageSize: 100})
	require.NoError(t, err)
	require.Len(t, emissions, 2)

	assert.Equal(t, "12345678901234567", emissions[0].Request.Identifier)
	assert.Equal(t,
		"https://roster.example.com/dmxConnect/api/Booking/getbookie.php?bookingid=12345678901234567",
		emissions[0].Request.URL,
	)
	assert.Equal(t, "20250001234567891234", emissions[1].Request.Identifier)
}

func TestOnQueryResponsePagedContainer(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	body := []byte(`{"query": {"offset": 0, "limit": 100, "total": 150, "data": [{"BookingID": "7"}]}}`)
	emissions, next, err := c.OnQueryResponse(FetchResponse{URL: "u", Body: body}, "Test", Cursor{PageSize: 100})
	require.NoError(t, err)
	require.Len(t, emissions, 2)
	assert.Equal(t, EmitDetail, emissions[0].Kind)
	assert.Equal(t, EmitQuery, emissions[1].Kind)
	assert.Equal(t, 150, next.Total)
	assert.Equal(t, 100, next.Offset)
}

func TestOnQueryResponseInvalid(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	tests := []struct {
		name string
		body string
	}{
		{name: "html error page", body: "<html><body>Service Unavailable</body></html>"},
		{name: "missing results key", body: `{"rows": []}`},
		{name: "scalar results", body: `{"query": 5}`},
		{name: "bad total", body: `{"total": "many", "query": []}`},
		{name: "scalar document", body: `"hello"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			emissions, next, err := c.OnQueryResponse(
				FetchResponse{URL: "https://roster.example.com/q", Body: []byte(tt.body)},
				"Test",
				Cursor{PageSize: 100},
			)
			var invalid *normalize.InvalidResponseError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Empty(t, emissions)
			assert.True(t, next.Done)
		})
	}
}

func TestOnDetailResponse(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	tests := []struct {
		name string
		body string
	}{
		{name: "wrapped in list", body: `{"bookie": [{"BookingID": "13826", "FName": "A"}]}`},
		{name: "bare object", body: `{"bookie": {"BookingID": "13826", "FName": "A"}}`},
		{name: "case folded key", body: `{"Bookie": [{"BookingID": "13826", "FName": "A"}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec, err := c.OnDetailResponse(FetchResponse{URL: "u", Body: []byte(tt.body)}, "Test")
			require.NoError(t, err)
			assert.Equal(t, "13826", rec["BookingID"])
			assert.Equal(t, "A", rec["FName"])
		})
	}
}

func TestOnDetailResponseKeepsNumberLiterals(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	rec, err := c.OnDetailResponse(FetchResponse{
		URL:  "u",
		Body: []byte(`{"bookie": [{"BookingID": 12345678901234567, "InmateID": 9007199254740993}]}`),
	}, "Test")
	require.NoError(t, err)
	assert.Equal(t, json.Number("12345678901234567"), rec["BookingID"])
	assert.Equal(t, json.Number("9007199254740993"), rec["InmateID"])
}

func TestOnDetailResponseInvalid(t *testing.T) {
	t.Parallel()

	c := newTestController(t, nil)
	for _, body := range []string{
		`{"bookie": []}`,
		`{"other": {}}`,
		`[]`,
		`<!DOCTYPE html>`,
	} {
		_, err := c.OnDetailResponse(FetchResponse{URL: "u", Body: []byte(body)}, "Test")
		var invalid *normalize.InvalidResponseError
		assert.True(t, errors.As(err, &invalid), body)
	}
}

func TestCursorNext(t *testing.T) {
	t.Parallel()

	next, more := Cursor{PageSize: 10}.Next()
	assert.False(t, more)
	assert.True(t, next.Done)

	next, more = Cursor{Offset: 0, PageSize: 10, Total: 10, TotalKnown: true}.Next()
	assert.True(t, more)
	assert.Equal(t, 10, next.Offset)

	_, more = next.Next()
	assert.False(t, more)
}
