package shop

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"farmops/pkg/middleware"
)

func newShopRouter(t *testing.T) (*gin.Engine, *shopFixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newShopFixture(t)
	router := gin.New()
	router.Use(middleware.Error())
	NewHandler(f.svc).Register(router)
	return router, f
}

func TestBuyEndpointSuccess(t *testing.T) {
	router, f := newShopRouter(t)
	f.seedItem(t, "ci-windmill", 180, 3, 1.25, nil)
	f.seedOrgWallet(t, "org-1", 500)

	req := httptest.NewRequest(http.MethodPost, "/api/shop/buy", strings.NewReader(`{"org_id":"org-1","slug":"ci-windmill"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"level":1`)
	require.Contains(t, w.Body.String(), `"cost":180`)
}

func TestBuyEndpointErrorMapping(t *testing.T) {
	router, f := newShopRouter(t)
	f.seedItem(t, "ci-windmill", 180, 3, 1.25, nil)

	// Missing body field.
	req := httptest.NewRequest(http.MethodPost, "/api/shop/buy", strings.NewReader(`{"org_id":"org-1"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// Unknown item.
	req = httptest.NewRequest(http.MethodPost, "/api/shop/buy", strings.NewReader(`{"org_id":"org-1","slug":"nope"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNotFound, w.Code)

	// No wallet to debit.
	req = httptest.NewRequest(http.MethodPost, "/api/shop/buy", strings.NewReader(`{"org_id":"org-1","slug":"ci-windmill"}`))
	req.Header.Set("Content-Type", "application/json")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListEndpointRequiresOrg(t *testing.T) {
	router, _ := newShopRouter(t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/shop", nil))
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/shop?org_id=org-1", nil))
	require.Equal(t, http.StatusOK, w.Code)
}
