package handlers

import (
	"net/http"
	"net/http/httptest"
	"testing"

	config "bizai-forecast-api/configs"
	"bizai-forecast-api/pkg/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func adminRouter(t *testing.T) *gin.Engine {
	t.Helper()
	store, err := services.NewModelStore(t.TempDir())
	assert.NoError(t, err)
	ah := NewAdminHandler(&config.Config{AdminUsername: "admin", AdminPassword: "pass"}, store)

	r := gin.New()
	r.GET("/health", HealthCheck)
	r.GET("/api/v1/admin/health-status", ah.GetHealthStatus)
	r.POST("/api/v1/admin/maintenance/start", ah.StartMaintenance)
	r.POST("/api/v1/admin/maintenance/stop", ah.StopMaintenance)
	return r
}

func TestHealthCheck(t *testing.T) {
	isMaintenanceMode.Store(false)
	r := adminRouter(t)

	req, _ := http.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestMaintenanceModeLifecycle(t *testing.T) {
	isMaintenanceMode.Store(false)
	r := adminRouter(t)

	// 誤った認証情報では開始できない
	w := postJSON(t, r, "/api/v1/admin/maintenance/start", gin.H{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// 正しい認証情報で開始
	w = postJSON(t, r, "/api/v1/admin/maintenance/start", gin.H{"username": "admin", "password": "pass"})
	assert.Equal(t, http.StatusOK, w.Code)

	// メンテナンス中はヘルスチェックが503
	req, _ := http.NewRequest("GET", "/health", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// 停止すると復帰
	w = postJSON(t, r, "/api/v1/admin/maintenance/stop", gin.H{"username": "admin", "password": "pass"})
	assert.Equal(t, http.StatusOK, w.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthStatusIncludesModelCount(t *testing.T) {
	isMaintenanceMode.Store(false)
	r := adminRouter(t)

	req, _ := http.NewRequest("GET", "/api/v1/admin/health-status", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"modelsStored":0`)
	assert.Contains(t, w.Body.String(), `"isMaintenanceMode":false`)
}
