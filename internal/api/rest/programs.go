package rest

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/program"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
)

// GET /api/v1/programs
func (s *Server) listPrograms(c *gin.Context) {
	names, err := s.store.ListPrograms()
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROG_500", "Failed to list programs", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"programs": names})
}

// GET /api/v1/programs/:name
func (s *Server) getProgram(c *gin.Context) {
	name := c.Param("name")

	p, err := s.store.LoadProgram(name)
	if err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("PROG_404", "Program not found", name))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROG_500", "Failed to load program", err.Error()))
		return
	}
	c.JSON(http.StatusOK, p)
}

// PUT /api/v1/programs/:name
func (s *Server) saveProgram(c *gin.Context) {
	name := c.Param("name")

	var req struct {
		Steps []program.Step `json:"steps" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("PROG_400", "Invalid program body", err.Error()))
		return
	}

	p := program.Program{Name: name, Steps: req.Steps}
	if err := s.store.SaveProgram(p); err != nil {
		c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("PROG_422", "Program rejected", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Program saved", "name": name})
}

// DELETE /api/v1/programs/:name
func (s *Server) deleteProgram(c *gin.Context) {
	name := c.Param("name")

	if err := s.store.DeleteProgram(name); err != nil {
		if strings.Contains(err.Error(), "not found") {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("PROG_404", "Program not found", name))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("PROG_500", "Failed to delete program", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Program deleted", "name": name})
}
