package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/psds-microservice/attention-service/internal/handler"
	"github.com/psds-microservice/attention-service/internal/metrics"
	"github.com/psds-microservice/attention-service/pkg/constants"
)

// New builds the HTTP router.
func New(
	classrooms *handler.ClassroomHandler,
	ws *handler.ClassroomWSHandler,
	health *handler.HealthHandler,
	m *metrics.Metrics,
) http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), m.GinMiddleware())

	r.GET(constants.PathHealth, health.Health)
	r.GET(constants.PathReady, health.Ready)
	r.GET(constants.PathMetrics, gin.WrapH(m.Handler()))

	// REST API: в корне и под /api
	mountAPI(r.Group(""), classrooms)
	mountAPI(r.Group(constants.APIPrefix), classrooms)

	// WebSocket: /ws
	r.GET(constants.PathWS, ws.ServeWS)

	return r
}

func mountAPI(g *gin.RouterGroup, h *handler.ClassroomHandler) {
	classroom := g.Group("/classroom")
	{
		classroom.POST("", h.CreateClassroom)
		classroom.GET("/:code", h.GetClassroom)
		classroom.POST("/:code/end", h.EndClassroom)
		classroom.GET("/:code/insights", h.Insights)
	}
	sessions := g.Group("/sessions")
	{
		sessions.POST("", h.CreateSession)
		sessions.PUT("/:id", h.EndSession)
	}
	focus := g.Group("/focus-data")
	{
		focus.POST("", h.RecordFocusData)
		focus.POST("/batch", h.RecordFocusBatch)
	}
}
