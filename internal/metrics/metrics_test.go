package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetModelStateIsExclusive(t *testing.T) {
	SetModelState("ready")
	assert.Equal(t, 1.0, testutil.ToFloat64(modelState.WithLabelValues("ready")))
	assert.Equal(t, 0.0, testutil.ToFloat64(modelState.WithLabelValues("loading")))

	SetModelState("failed")
	assert.Equal(t, 0.0, testutil.ToFloat64(modelState.WithLabelValues("ready")))
	assert.Equal(t, 1.0, testutil.ToFloat64(modelState.WithLabelValues("failed")))
}

func TestRecordPrediction(t *testing.T) {
	before := testutil.ToFloat64(predictions.WithLabelValues("ok"))
	RecordPrediction("ok", 12*time.Millisecond)
	assert.Equal(t, before+1, testutil.ToFloat64(predictions.WithLabelValues("ok")))
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", gin.WrapH(Handler()))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/ping", "200")))

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "nutriscan_http_requests_total")
	assert.Contains(t, rec.Body.String(), "nutriscan_predictor_model_state")
}
