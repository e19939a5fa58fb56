package web

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type metricRequest struct {
	Value *float64 `json:"value"`
}

func (s *Server) heartbeat(c *gin.Context) {
	res, err := s.ingestor.Heartbeat(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) webhookFail(c *gin.Context) {
	res, err := s.ingestor.WebhookFail(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) webhookRecover(c *gin.Context) {
	res, err := s.ingestor.WebhookRecover(c.Request.Context(), c.Param("token"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// metric accepts {"value": x} as a JSON body or ?value=x.
func (s *Server) metric(c *gin.Context) {
	var value *float64
	if raw := c.Query("value"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			badRequest(c, fmt.Errorf("value must be a number"))
			return
		}
		value = &v
	} else if c.Request.ContentLength != 0 {
		var req metricRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		value = req.Value
	}

	res, err := s.ingestor.Metric(c.Request.Context(), c.Param("token"), value)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
