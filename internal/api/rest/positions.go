package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/calibration"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/robot"
	"github.com/robentialkinetics-kishtech/two-device-cup-washing-system/internal/types"
)

// GET /api/v1/positions
func (s *Server) listPositions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"positions": s.positions.All()})
}

// PUT /api/v1/positions/:name
func (s *Server) savePosition(c *gin.Context) {
	name := c.Param("name")

	var pos types.Position
	if err := c.ShouldBindJSON(&pos); err != nil {
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CALIB_400", "Invalid position body", err.Error()))
		return
	}

	if err := s.positions.Put(name, pos); err != nil {
		if errors.Is(err, robot.ErrOutOfWorkspace) {
			c.JSON(http.StatusUnprocessableEntity, types.NewErrorResponse("CALIB_422", "Position outside workspace", err.Error()))
			return
		}
		c.JSON(http.StatusBadRequest, types.NewErrorResponse("CALIB_400", "Failed to save position", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": name, "position": pos})
}

// DELETE /api/v1/positions/:name
func (s *Server) deletePosition(c *gin.Context) {
	name := c.Param("name")

	if err := s.positions.Delete(name); err != nil {
		var missing *calibration.MissingError
		if errors.As(err, &missing) {
			c.JSON(http.StatusNotFound, types.NewErrorResponse("CALIB_404", "Position not found", name))
			return
		}
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("CALIB_500", "Failed to delete position", err.Error()))
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Position deleted", "name": name})
}
