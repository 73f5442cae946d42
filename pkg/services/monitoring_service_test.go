package services

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestLoggingMiddlewareRecordsRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := NewMonitoringService(nil)

	r := gin.New()
	r.Use(svc.LoggingMiddleware())
	r.POST("/predict", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })
	r.GET("/api/v1/monitoring/logs", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{}) })

	req, _ := http.NewRequest("POST", "/predict", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	// 監視系パスは集計対象外
	req, _ = http.NewRequest("GET", "/api/v1/monitoring/logs", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	data := svc.GetDashboardData(1)
	assert.Equal(t, 1, data.Endpoints["/predict"])
	assert.NotContains(t, data.Endpoints, "/api/v1/monitoring/logs")
	assert.Equal(t, 1, data.PredictCount)
	assert.Equal(t, 0, data.RetrainCount)
}

func TestDashboardAggregation(t *testing.T) {
	svc := NewMonitoringService(nil)
	now := time.Now()

	svc.LogRequest(LogEntry{Timestamp: now, Path: "/retrain", Method: "POST", StatusCode: 200, ResponseTime: 20 * time.Millisecond})
	svc.LogRequest(LogEntry{Timestamp: now, Path: "/predict", Method: "POST", StatusCode: 404, ResponseTime: 5 * time.Millisecond})
	svc.LogRequest(LogEntry{Timestamp: now, Path: "/predict", Method: "POST", StatusCode: 500, ResponseTime: 10 * time.Millisecond})
	// 期間外のログは無視される
	svc.LogRequest(LogEntry{Timestamp: now.Add(-48 * time.Hour), Path: "/predict", Method: "POST", StatusCode: 200})

	data := svc.GetDashboardData(24)
	assert.Equal(t, 1, data.RetrainCount)
	assert.Equal(t, 2, data.PredictCount)
	assert.Len(t, data.RequestsOverTime, 24)
	assert.Len(t, data.RecentErrors, 1)
	assert.Equal(t, "/predict", data.RecentErrors[0].Path)

	statusTotals := make(map[string]int)
	for _, entry := range data.StatusCodes {
		statusTotals[entry["name"].(string)] = entry["value"].(int)
	}
	assert.Equal(t, 1, statusTotals["2xx Success"])
	assert.Equal(t, 1, statusTotals["4xx Client Error"])
	assert.Equal(t, 1, statusTotals["5xx Server Error"])
}

func TestDashboardModelsStored(t *testing.T) {
	store := newTestStore(t)
	p := NewSalesPredictor("biz_mon", testModelConfig())
	assert.NoError(t, p.Train(syntheticRecords([]string{"item_A"}, 10)))
	assert.NoError(t, store.Save(p))

	svc := NewMonitoringService(store)
	data := svc.GetDashboardData(1)
	assert.Equal(t, 1, data.ModelsStored)
}

func TestLogBufferCapped(t *testing.T) {
	svc := NewMonitoringService(nil)
	for i := 0; i < maxLogEntries+100; i++ {
		svc.LogRequest(LogEntry{Timestamp: time.Now(), Path: "/predict", StatusCode: 200})
	}
	svc.mu.RLock()
	defer svc.mu.RUnlock()
	assert.Len(t, svc.logs, maxLogEntries)
}
