package rest

import (
	"net/http"
	"sort"

	"github.com/gin-gonic/gin"

	"github.com/openmmu/printflow/internal/types"
)

// GET /api/v1/status
func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.monitor.Snapshot())
}

// GET /api/v1/recipe
func (s *Server) getRecipe(c *gin.Context) {
	snap := s.monitor.Snapshot()
	if snap.Recipe == "" {
		c.JSON(http.StatusNotFound, types.NewErrorResponse("RECIPE_404", "No recipe loaded", nil))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recipe": snap.Recipe,
		"plan":   snap.Plan,
	})
}

type materialEntry struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Pump        string `json:"pump"`
}

// GET /api/v1/materials
func (s *Server) listMaterials(c *gin.Context) {
	entries := make([]materialEntry, 0, len(s.catalog.Materials))
	for _, m := range s.catalog.Materials {
		entries = append(entries, materialEntry{
			ID:          m.ID,
			Name:        m.Name,
			Description: m.Description,
			Pump:        m.Pump,
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"materials":  entries,
		"drain_pump": s.catalog.DrainPump,
		"air_valve":  s.catalog.AirValve,
	})
}

// GET /api/v1/pumps
func (s *Server) listPumps(c *gin.Context) {
	profiles := s.profiles.All()
	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].ActuatorID < profiles[j].ActuatorID
	})

	c.JSON(http.StatusOK, gin.H{
		"pumps": profiles,
	})
}
