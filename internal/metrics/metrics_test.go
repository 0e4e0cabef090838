package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.MemberJoined()
		m.MembersLeft(2)
		m.EventDelivered("student-update")
		m.EventDropped()
		m.StateChanged("attentive")
		m.WriteBehindDrop()
		m.WriteBehindFailure()
		m.SamplesAppended(3)
		m.SetActiveClassrooms(1)
	})
}

func TestCountersAndHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	m.MemberJoined()
	m.MemberJoined()
	m.MembersLeft(1)
	m.EventDelivered("student-update")
	m.EventDropped()
	m.SamplesAppended(4)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ConnectedMembers))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Events.WithLabelValues("student-update")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.SamplesStored))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "attention_hub_dropped_events_total 1"))
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	m := NewWithRegistry(reg, reg)

	r := gin.New()
	r.Use(m.GinMiddleware())
	r.GET("/classroom/:code", func(c *gin.Context) { c.Status(http.StatusNotFound) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/classroom/FCS-1111", nil))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/classroom/:code", "404")))
}
