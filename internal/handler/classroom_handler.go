package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/psds-microservice/attention-service/internal/model"
	"github.com/psds-microservice/attention-service/internal/service"
)

// ClassroomHandler handles the REST API for classrooms, sessions and the sample trail.
type ClassroomHandler struct {
	svc    service.ClassroomServicer
	logger *zap.Logger
}

// NewClassroomHandler creates the handler (принимает ClassroomServicer).
func NewClassroomHandler(svc service.ClassroomServicer, logger *zap.Logger) *ClassroomHandler {
	return &ClassroomHandler{svc: svc, logger: logger}
}

// bindOptionalJSON accepts an empty body.
func bindOptionalJSON(c *gin.Context, v any) error {
	if err := c.ShouldBindJSON(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// CreateClassroom godoc
// POST /classroom
func (h *ClassroomHandler) CreateClassroom(c *gin.Context) {
	var req model.CreateClassroomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	classroom, err := h.svc.CreateClassroom(c.Request.Context(), req.TeacherID, req.Name)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "classroom": classroom})
}

// GetClassroom godoc
// GET /classroom/:code
func (h *ClassroomHandler) GetClassroom(c *gin.Context) {
	classroom, students, err := h.svc.GetClassroom(c.Request.Context(), c.Param("code"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, model.ClassroomResponse{Success: true, Classroom: classroom, Students: students})
}

// EndClassroom godoc
// POST /classroom/:code/end
func (h *ClassroomHandler) EndClassroom(c *gin.Context) {
	var req model.EndClassroomRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	classroom, err := h.svc.EndClassroom(c.Request.Context(), c.Param("code"), req.TeacherID)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "classroom": classroom})
}

// Insights godoc
// GET /classroom/:code/insights?teacherId=
func (h *ClassroomHandler) Insights(c *gin.Context) {
	insights, err := h.svc.Insights(c.Request.Context(), c.Param("code"), c.Query("teacherId"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "insights": insights})
}

// CreateSession godoc
// POST /sessions
func (h *ClassroomHandler) CreateSession(c *gin.Context) {
	var req model.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.CreateSession(c.Request.Context(), req)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "session": sess})
}

// EndSession godoc
// PUT /sessions/:id
func (h *ClassroomHandler) EndSession(c *gin.Context) {
	var req model.EndSessionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		badRequest(c, err)
		return
	}
	sess, err := h.svc.EndSession(c.Request.Context(), c.Param("id"), req.EndTime)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "session": sess})
}

// RecordFocusData godoc
// POST /focus-data
func (h *ClassroomHandler) RecordFocusData(c *gin.Context) {
	var req model.FocusDataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.svc.RecordSample(c.Request.Context(), req); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true})
}

// RecordFocusBatch godoc
// POST /focus-data/batch
func (h *ClassroomHandler) RecordFocusBatch(c *gin.Context) {
	var req model.FocusBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	n, err := h.svc.RecordBatch(c.Request.Context(), req.Data)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "count": n})
}
