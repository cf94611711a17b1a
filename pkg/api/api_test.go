package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cuemby/stormctl/pkg/api"
	"github.com/cuemby/stormctl/pkg/computehook"
	"github.com/cuemby/stormctl/pkg/pageclient"
	"github.com/cuemby/stormctl/pkg/service"
	"github.com/cuemby/stormctl/pkg/storage"
	"github.com/cuemby/stormctl/pkg/types"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, authToken string) (http.Handler, *service.Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := storage.OpenSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	svc := service.New(service.DefaultConfig(), store, pageclient.NewFake(), computehook.NoopHook{})

	srv := api.NewServer("127.0.0.1:0", svc, authToken)
	return srv.Handler(), svc
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthzAndMetricsAreUnauthenticated(t *testing.T) {
	h, _ := newTestRouter(t, "secret")

	w := doJSON(t, h, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestControlRoutesRequireBearerToken(t *testing.T) {
	h, _ := newTestRouter(t, "secret")

	req := httptest.NewRequest(http.MethodGet, "/control/v1/node", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/control/v1/node", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/control/v1/node", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestRegisterAndListNode(t *testing.T) {
	h, _ := newTestRouter(t, "")

	w := doJSON(t, h, http.MethodPost, "/control/v1/node", types.Node{
		ID:           "node-1",
		HTTPHost:     "127.0.0.1",
		HTTPPort:     9898,
		Availability: types.NodeActive,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodGet, "/control/v1/node", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Nodes []*types.Node `json:"nodes"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Nodes, 1)
	require.Equal(t, types.NodeId("node-1"), resp.Nodes[0].ID)
}

func TestCreateTenantThenGetTenant(t *testing.T) {
	h, svc := newTestRouter(t, "")

	w := doJSON(t, h, http.MethodPost, "/control/v1/node", types.Node{
		ID:           "node-1",
		HTTPHost:     "127.0.0.1",
		HTTPPort:     9898,
		Availability: types.NodeActive,
	})
	require.Equal(t, http.StatusCreated, w.Code)

	w = doJSON(t, h, http.MethodPost, "/control/v1/tenant", map[string]any{
		"tenant_id": "tenant-1",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	require.Len(t, svc.Shards(), 1)

	w = doJSON(t, h, http.MethodGet, "/control/v1/tenant/tenant-1", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestGetUnknownTenantReturnsNotFound(t *testing.T) {
	h, _ := newTestRouter(t, "")
	w := doJSON(t, h, http.MethodGet, "/control/v1/tenant/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
