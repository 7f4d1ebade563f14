package routes

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zx-tiles/offline-proxy/internal/cache"
	"github.com/zx-tiles/offline-proxy/internal/config"
	"github.com/zx-tiles/offline-proxy/internal/logging"
	"github.com/zx-tiles/offline-proxy/internal/sw"
)

type routesEnv struct {
	app     *fiber.App
	reg     *sw.Registration
	bg      *sw.Background
	storage cache.Storage
}

func newRoutesEnv(t *testing.T, install bool) *routesEnv {
	t.Helper()
	logger := logging.Discard()
	bg := sw.NewBackground(logger)
	reg := sw.NewRegistration(logger, bg)
	storage := cache.NewMemoryStorage()
	t.Cleanup(bg.Wait)

	if install {
		fetcher := sw.FetcherFunc(func(context.Context, *cache.Request) (*cache.Response, error) {
			return &cache.Response{Status: http.StatusOK, Header: http.Header{}, Body: []byte("ok")}, nil
		})
		w, err := sw.NewWorker(config.SiteConfig{
			Origin:               "http://tiles.local:5000",
			Version:              "0.2.118",
			AssetCachePrefix:     config.DefaultAssetCachePrefix,
			ImageCachePrefix:     config.DefaultImageCachePrefix,
			SkipWaitingOnInstall: true,
			ImagePlaceholder:     config.PlaceholderLiteral,
		}, sw.Deps{Storage: storage, Fetcher: fetcher, Background: bg, Logger: logger})
		require.NoError(t, err)
		require.NoError(t, reg.Install(context.Background(), w))
	}

	app := fiber.New()
	RegisterControlRoutes(app, reg, logger)
	RegisterStrategyRoutes(app, reg)
	return &routesEnv{app: app, reg: reg, bg: bg, storage: storage}
}

func (e *routesEnv) do(t *testing.T, method, target, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	resp, err := e.app.Test(req)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

func TestMessageClearCache(t *testing.T) {
	env := newRoutesEnv(t, true)
	ctx := context.Background()
	c, err := env.storage.Open(ctx, "zx-tiles-v0.2.118")
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, cache.NewRequest("http://tiles.local:5000/"), &cache.Response{Status: http.StatusOK}))

	status, body := env.do(t, http.MethodPost, MessagePath, "clearCache")
	assert.Equal(t, http.StatusAccepted, status)
	assert.Contains(t, body, `"version":"0.2.118"`)

	env.bg.Wait()
	keys, err := env.storage.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestMessageRejectsUnknownCommand(t *testing.T) {
	env := newRoutesEnv(t, true)
	status, body := env.do(t, http.MethodPost, MessagePath, "reboot")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.JSONEq(t, `{"error":"unknown_command"}`, body)

	status, body = env.do(t, http.MethodPost, MessagePath, " clearCache\n")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.JSONEq(t, `{"error":"unknown_command"}`, body)
}

func TestMessageTargets(t *testing.T) {
	env := newRoutesEnv(t, true)

	status, body := env.do(t, http.MethodPost, MessagePath+"?target=waiting", "skipWaiting")
	assert.Equal(t, http.StatusConflict, status)
	assert.JSONEq(t, `{"error":"no_worker"}`, body)

	status, _ = env.do(t, http.MethodPost, MessagePath+"?target=all", "skipWaiting")
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = env.do(t, http.MethodPost, MessagePath+"?target=active", "skipWaiting")
	assert.Equal(t, http.StatusAccepted, status)
}

func TestMessageWithoutWorker(t *testing.T) {
	env := newRoutesEnv(t, false)
	status, _ := env.do(t, http.MethodPost, MessagePath, "skipWaiting")
	assert.Equal(t, http.StatusConflict, status)
}

func TestStatusReportsActiveWorker(t *testing.T) {
	env := newRoutesEnv(t, true)
	status, body := env.do(t, http.MethodGet, "/-/sw/status", "")
	require.Equal(t, http.StatusOK, status)

	var payload sw.Status
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.NotNil(t, payload.Active)
	assert.Equal(t, "0.2.118", payload.Active.Version)
	assert.Equal(t, sw.StateActivated, payload.Active.State)
	assert.Equal(t, "0.2.118", payload.Controller)
	assert.Nil(t, payload.Waiting)
}

func TestStrategiesListing(t *testing.T) {
	env := newRoutesEnv(t, true)
	status, body := env.do(t, http.MethodGet, "/-/sw/strategies", "")
	require.Equal(t, http.StatusOK, status)

	var payload struct {
		Strategies []strategyPayload `json:"strategies"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &payload))
	require.Len(t, payload.Strategies, 3)
	assert.Equal(t, "image", payload.Strategies[0].Kind)
	assert.Equal(t, "zx-tiles-images-v0.2.118", payload.Strategies[0].Namespace)
	assert.Equal(t, "static", payload.Strategies[1].Kind)
	assert.Equal(t, "zx-tiles-v0.2.118", payload.Strategies[1].Namespace)
	assert.Equal(t, "navigation", payload.Strategies[2].Kind)
	assert.True(t, payload.Strategies[2].Default)
}

func TestStrategyDetail(t *testing.T) {
	env := newRoutesEnv(t, false)
	status, body := env.do(t, http.MethodGet, "/-/sw/strategies/STATIC", "")
	require.Equal(t, http.StatusOK, status)
	assert.Contains(t, body, `".woff2"`)
	assert.NotContains(t, body, `"namespace"`)

	status, _ = env.do(t, http.MethodGet, "/-/sw/strategies/video", "")
	assert.Equal(t, http.StatusNotFound, status)
}
