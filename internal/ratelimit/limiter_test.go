package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"connect-platform/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestLimiter_BurstThenRefill(t *testing.T) {
	l := New(1, 2, time.Minute)
	now := time.Unix(1700000000, 0)

	assert.True(t, l.Allow("p1", now))
	assert.True(t, l.Allow("p1", now))
	assert.False(t, l.Allow("p1", now))
	assert.True(t, l.Allow("p2", now), "keys are independent")

	assert.True(t, l.Allow("p1", now.Add(time.Second)))
}

func TestLimiter_NilAndEmptyKeyAllow(t *testing.T) {
	var l *Limiter
	assert.True(t, l.Allow("p", time.Now()))
	assert.Nil(t, New(0, 1, 0))

	l = New(1, 1, 0)
	for i := 0; i < 5; i++ {
		assert.True(t, l.Allow("  ", time.Now()))
	}
	assert.Equal(t, 0, l.Len())
}

func TestLimiter_SweepsIdleKeys(t *testing.T) {
	l := New(100, 100, time.Minute)
	start := time.Unix(1700000000, 0)
	l.Allow("idle", start)

	later := start.Add(2 * time.Minute)
	for i := 0; i < sweepEvery; i++ {
		l.Allow("busy", later)
	}
	assert.Equal(t, 1, l.Len())
}

func TestMiddleware_KeysByParticipant(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		id := c.GetHeader("X-Test-Participant")
		c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), id, "requester"))
		c.Next()
	})
	r.Use(Middleware(New(0.001, 1, time.Minute)))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	do := func(id string) int {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		req.Header.Set("X-Test-Participant", id)
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, do("a"))
	assert.Equal(t, http.StatusTooManyRequests, do("a"))
	assert.Equal(t, http.StatusNoContent, do("b"))
}
