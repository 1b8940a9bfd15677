package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/sheriff-roster-crawler/internal/app"
	"github.com/JakeFAU/sheriff-roster-crawler/internal/config"
)

type mockHarvester struct {
	mock.Mock
}

func (m *mockHarvester) Run(ctx context.Context, sources []string) (app.Summary, error) {
	args := m.Called(ctx, sources)
	return args.Get(0).(app.Summary), args.Error(1)
}

func (m *mockHarvester) Close() error {
	return m.Called().Error(0)
}

// useHarvester swaps the factories for the duration of a test. Tests using it
// must not run in parallel.
func useHarvester(t *testing.T, h Harvester, factoryErr error) {
	t.Helper()
	prevApp, prevLogger := newApp, newLogger
	newApp = func(context.Context, config.Config, *zap.Logger) (Harvester, error) {
		if factoryErr != nil {
			return nil, factoryErr
		}
		return h, nil
	}
	newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() { newApp, newLogger = prevApp, prevLogger })
}

func execute(args ...string) (string, error) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlPassesSourcesAndPrintsSummary(t *testing.T) {
	h := &mockHarvester{}
	h.On("Run", mock.Anything, []string{"Caddo", "Creek"}).
		Return(app.Summary{RunID: "run-1", Status: "succeeded", Records: 12}, nil)
	h.On("Close").Return(nil)
	useHarvester(t, h, nil)

	out, err := execute("crawl", "--source", "Caddo", "--source", "Creek")
	require.NoError(t, err)

	var summary app.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 12, summary.Records)
	h.AssertExpectations(t)
}

func TestCrawlReturnsRunError(t *testing.T) {
	h := &mockHarvester{}
	h.On("Run", mock.Anything, []string(nil)).
		Return(app.Summary{RunID: "run-2", Status: "failed"}, app.ErrAllSourcesFailed)
	h.On("Close").Return(errors.New("close failed"))
	useHarvester(t, h, nil)

	out, err := execute("crawl")
	require.ErrorIs(t, err, app.ErrAllSourcesFailed)
	assert.Contains(t, out, `"run_id": "run-2"`)
	h.AssertExpectations(t)
}

func TestCrawlFactoryError(t *testing.T) {
	useHarvester(t, nil, errors.New("bucket missing"))

	_, err := execute("crawl")
	require.ErrorContains(t, err, "bucket missing")
}

func TestCrawlBadConfigPath(t *testing.T) {
	useHarvester(t, &mockHarvester{}, nil)

	_, err := execute("crawl", "--config", "/nonexistent/roster.yaml")
	require.ErrorContains(t, err, "read config")
}

func TestSourcesListsRegistry(t *testing.T) {
	useHarvester(t, nil, nil)

	out, err := execute("sources")
	require.NoError(t, err)
	assert.Contains(t, out, "Caddo\thttps://caddocountysheriff.com/dmxConnect/api/Booking/Read2.php")
	assert.Contains(t, out, "Wagoner\t")
}

func TestSourcesYAML(t *testing.T) {
	useHarvester(t, nil, nil)

	out, err := execute("sources", "--format", "yaml")
	require.NoError(t, err)

	var views []siteView
	require.NoError(t, yaml.Unmarshal([]byte(out), &views))
	require.NotEmpty(t, views)
	for _, v := range views {
		if v.Name != "Wagoner" {
			continue
		}
		assert.Equal(t, "https://wagonercountyso.org/dmxConnect/api/Booking/getBookie.php", v.Detail)
		assert.Equal(t, "queryInmate", v.RecordKey)
		return
	}
	t.Fatal("Wagoner not listed")
}

func TestSourcesUnknownFormat(t *testing.T) {
	useHarvester(t, nil, nil)

	_, err := execute("sources", "--format", "xml")
	require.ErrorContains(t, err, "unknown format")
}

func TestExplicitEnvFileMustExist(t *testing.T) {
	useHarvester(t, nil, nil)

	_, err := execute("sources", "--env-file", "/nonexistent/.env")
	require.ErrorContains(t, err, "load env file")
}

func TestEnvFileOverridesConfig(t *testing.T) {
	h := &mockHarvester{}
	h.On("Run", mock.Anything, []string(nil)).Return(app.Summary{RunID: "run-3"}, nil)
	h.On("Close").Return(nil)

	var got config.Config
	prevApp, prevLogger := newApp, newLogger
	newApp = func(_ context.Context, cfg config.Config, _ *zap.Logger) (Harvester, error) {
		got = cfg
		return h, nil
	}
	newLogger = func(bool) (*zap.Logger, error) { return zap.NewNop(), nil }
	t.Cleanup(func() { newApp, newLogger = prevApp, prevLogger })

	path := filepath.Join(t.TempDir(), "roster.env")
	require.NoError(t, os.WriteFile(path, []byte("CRAWLER_SINK_BACKEND=memory\n"), 0o600))
	t.Cleanup(func() { _ = os.Unsetenv("CRAWLER_SINK_BACKEND") })

	_, err := execute("crawl", "--env-file", path)
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, got.Sink.Backend)
}
