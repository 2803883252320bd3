package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name      string
		status    int
		requestID string
		wantLevel zapcore.Level
	}{
		{name: "ok", status: http.StatusOK, wantLevel: zap.InfoLevel},
		{name: "client error", status: http.StatusNotFound, wantLevel: zap.WarnLevel},
		{name: "server error", status: http.StatusBadGateway, wantLevel: zap.ErrorLevel},
		{name: "propagates request id", status: http.StatusOK, requestID: "req-1", wantLevel: zap.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.DebugLevel)
			r := gin.New()
			r.Use(RequestLogger(zap.New(core)))
			var seen string
			r.GET("/x", func(c *gin.Context) {
				seen = RequestID(c)
				c.Status(tt.status)
			})

			req := httptest.NewRequest(http.MethodGet, "/x?a=1", nil)
			if tt.requestID != "" {
				req.Header.Set(HeaderRequestID, tt.requestID)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			require.Equal(t, 1, logs.Len())
			entry := logs.All()[0]
			assert.Equal(t, tt.wantLevel, entry.Level)
			assert.Equal(t, "http", entry.LoggerName)

			fields := entry.ContextMap()
			assert.Equal(t, int64(tt.status), fields["status"])
			assert.Equal(t, "a=1", fields["query"])
			assert.Equal(t, seen, fields["request_id"])
			assert.Equal(t, seen, w.Header().Get(HeaderRequestID))
			if tt.requestID != "" {
				assert.Equal(t, tt.requestID, seen)
			} else {
				assert.NotEmpty(t, seen)
			}
		})
	}
}
