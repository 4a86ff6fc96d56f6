package main

import (
	"context"
	"net/http"
	"time"

	"connect-platform/internal/httpapi"
	"connect-platform/internal/observability"
	"connect-platform/internal/ratelimit"
	"connect-platform/internal/rbac"
	"connect-platform/internal/realtime"

	"github.com/gin-gonic/gin"
)

// HealthChecker reports whether a backing store is reachable.
type HealthChecker func(ctx context.Context) error

type routeDeps struct {
	Handlers httpapi.Handlers
	Hub      *realtime.Hub
	AuthMW   gin.HandlerFunc
	Limiter  *ratelimit.Limiter
	Health   map[string]HealthChecker
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", healthHandler(d.Health))
	r.GET("/metrics", gin.WrapH(observability.Handler()))

	v1 := r.Group("/v1")
	v1.Use(d.AuthMW, rbac.RequireParticipant())

	// The socket is long-lived and exempt from rate limiting.
	v1.GET("/ws", rbac.RequireAnyRole(rbac.RoleRequester, rbac.RoleCounterpart), d.Hub.Handle)

	api := v1.Group("")
	api.Use(ratelimit.Middleware(d.Limiter))

	h := d.Handlers
	requesterOnly := rbac.RequireAnyRole(rbac.RoleRequester)
	counterpartOnly := rbac.RequireAnyRole(rbac.RoleCounterpart)
	participants := rbac.RequireAnyRole(rbac.RoleRequester, rbac.RoleCounterpart)

	// CONNECTION REQUEST routes
	requests := api.Group("/connection-requests")
	{
		requests.POST("", requesterOnly, h.CreateConnectionRequest)
		requests.GET("/:id", h.GetConnectionRequest)
		requests.POST("/:id/accept", counterpartOnly, h.AcceptConnectionRequest)
		requests.POST("/:id/reject", counterpartOnly, h.RejectConnectionRequest)
	}

	// MONEY routes
	api.POST("/transfers", requesterOnly, h.Transfer)
	api.POST("/deposits", requesterOnly, h.Deposit)

	// READ routes
	api.GET("/wallet", participants, h.GetWallet)
	api.GET("/transactions", participants, h.ListTransactions)
	api.GET("/deposits", requesterOnly, h.ListDeposits)
	api.GET("/missed-calls", participants, h.ListMissedCalls)

	api.PUT("/counterparts/me/status", counterpartOnly, h.SetCounterpartStatus)
}

func healthHandler(checks map[string]HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		out := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				out[name] = err.Error()
				continue
			}
			out[name] = "ok"
		}
		if status == http.StatusOK {
			out["status"] = "ok"
		} else {
			out["status"] = "degraded"
		}
		c.JSON(status, out)
	}
}
