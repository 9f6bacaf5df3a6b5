package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openmmu/printflow/internal/types"
)

const maxListLimit = 500

// GET /api/v1/history?limit=50
func (s *Server) listHistory(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	records, err := s.history.ListMaterialChanges(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("HISTORY_500", "Failed to load history", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"changes": records,
		"count":   len(records),
	})
}

// GET /api/v1/recipes?limit=20
func (s *Server) listRecipes(c *gin.Context) {
	limit := parseLimit(c.Query("limit"))

	records, err := s.history.ListRecipes(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, types.NewErrorResponse("HISTORY_500", "Failed to load recipes", err.Error()))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recipes": records,
		"count":   len(records),
	})
}

// parseLimit reads a ?limit= value; zero lets the store apply its default.
func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
