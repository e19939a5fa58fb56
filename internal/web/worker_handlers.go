package web

import (
	"context"
	"net/http"
	"sort"

	"github.com/John-MustangGT/sentinel/internal/scheduler"
	"github.com/gin-gonic/gin"
)

type workerInfo struct {
	Name     string `json:"name"`
	Interval string `json:"interval"`
}

// GET /api/workers
func (s *Server) getWorkers(c *gin.Context) {
	list := make([]workerInfo, 0, len(s.workers))
	for _, w := range s.workers {
		list = append(list, workerInfo{Name: w.Name(), Interval: w.Interval().String()})
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	c.JSON(http.StatusOK, gin.H{"data": list, "count": len(list)})
}

// POST /api/workers/:name/run - runs one tick synchronously
func (s *Server) runWorker(c *gin.Context) {
	w, ok := s.workers[c.Param("name")]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Worker not found", "code": "not_found"})
		return
	}

	// a client disconnect must not abort a half-finished tick
	start := s.engine.Clock().Now()
	if err := scheduler.RunOnce(context.WithoutCancel(c.Request.Context()), w, s.metrics); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "worker": w.Name()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":    "Worker tick completed",
		"worker":     w.Name(),
		"started_at": start,
	})
}
