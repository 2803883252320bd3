package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

var (
	healthy   = pingerFunc(func(context.Context) error { return nil })
	unhealthy = pingerFunc(func(context.Context) error { return errors.New("connection refused") })
)

func TestHealthHandler_LivenessProbe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHealthHandler(nil, nil)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/health/live", nil)

	handler.LivenessProbe(c)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"UP"`)
}

func TestHealthHandler_ReadinessProbe(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		database Pinger
		redis    Pinger
		want     int
		fields   map[string]string
	}{
		{
			name: "all healthy", database: healthy, redis: healthy, want: http.StatusOK,
			fields: map[string]string{"status": "UP", "database": "healthy", "redis": "healthy"},
		},
		{
			name: "database down", database: unhealthy, redis: healthy, want: http.StatusServiceUnavailable,
			fields: map[string]string{"status": "DOWN", "database": "unhealthy", "redis": "healthy", "database_error": "connection refused"},
		},
		{
			name: "redis down", database: healthy, redis: unhealthy, want: http.StatusServiceUnavailable,
			fields: map[string]string{"status": "DOWN", "database": "healthy", "redis": "unhealthy"},
		},
		{
			name: "redis not used", database: healthy, want: http.StatusOK,
			fields: map[string]string{"status": "UP", "database": "healthy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHealthHandler(tt.database, tt.redis)

			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)
			c.Request = httptest.NewRequest(http.MethodGet, "/health/ready", nil)

			handler.ReadinessProbe(c)

			assert.Equal(t, tt.want, w.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			for k, v := range tt.fields {
				assert.Equal(t, v, body[k], k)
			}
		})
	}
}
