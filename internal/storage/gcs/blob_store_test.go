package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type fakeGCS struct {
	mu      sync.Mutex
	uploads []string
	bodies  []string
	missing bool
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if strings.Contains(r.URL.Path, "/upload/") {
		body, _ := io.ReadAll(r.Body)
		f.uploads = append(f.uploads, r.URL.Query().Get("name"))
		f.bodies = append(f.bodies, string(body))
		fmt.Fprintf(w, `{"bucket":"feeds","name":%q}`, r.URL.Query().Get("name"))
		return
	}
	if f.missing {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":404,"message":"bucket not found"}}`)
		return
	}
	fmt.Fprint(w, `{"name":"feeds"}`)
}

func openTestStore(t *testing.T, fake *fakeGCS) (*BlobStore, error) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return Open(context.Background(), Config{Bucket: "feeds"},
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
}

func TestPutObjectUploadsFeed(t *testing.T) {
	t.Parallel()

	fake := &fakeGCS{}
	store, err := openTestStore(t, fake)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	uri, err := store.PutObject(context.Background(), "exports/bookings/2025-01-22T02-44-00Z.csv",
		"text/csv; charset=utf-8", bytes.NewReader([]byte("county,booking_id\nCaddo,13826\n")))
	require.NoError(t, err)
	assert.Equal(t, "gs://feeds/exports/bookings/2025-01-22T02-44-00Z.csv", uri)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	require.Equal(t, []string{"exports/bookings/2025-01-22T02-44-00Z.csv"}, fake.uploads)
	assert.Contains(t, fake.bodies[0], "Caddo,13826")
}

func TestOpenFailsForMissingBucket(t *testing.T) {
	t.Parallel()

	_, err := openTestStore(t, &fakeGCS{missing: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feeds")
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "feeds"})
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := openTestStore(t, &fakeGCS{})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "", "", bytes.NewReader(nil))
	require.Error(t, err)
}
