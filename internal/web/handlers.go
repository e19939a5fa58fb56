// internal/web/handlers.go - management API
package web

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/John-MustangGT/sentinel/internal/database"
	"github.com/John-MustangGT/sentinel/internal/monitoring"
	"github.com/gin-gonic/gin"
)

// ServiceRequest is the body for creating and updating services
type ServiceRequest struct {
	Name        string            `json:"name" binding:"required"`
	Description string            `json:"description"`
	Severity    database.Severity `json:"severity"`
	ContactIDs  []string          `json:"contact_ids"`
}

type PauseRequest struct {
	Until      *time.Time `json:"until"`
	AutoResume bool       `json:"auto_resume"`
}

type DependencyRequest struct {
	DependencyID string `json:"dependency_id" binding:"required"`
}

type MuteWindowRequest struct {
	StartsAt time.Time `json:"starts_at" binding:"required"`
	EndsAt   time.Time `json:"ends_at" binding:"required"`
	Reason   string    `json:"reason"`
}

// ---- services ----

func (s *Server) getServices(c *gin.Context) {
	filters := database.ServiceFilters{State: database.ServiceState(c.Query("state"))}
	services, err := s.engine.Store().GetServices(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": services, "count": len(services)})
}

func (s *Server) getService(c *gin.Context) {
	svc, err := s.engine.Store().GetService(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": svc})
}

func (s *Server) createService(c *gin.Context) {
	var req ServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	svc := &database.Service{
		Name:        req.Name,
		Description: req.Description,
		Severity:    req.Severity,
		ContactIDs:  req.ContactIDs,
	}
	if err := svc.Validate(); err != nil {
		respondError(c, err)
		return
	}
	if err := s.engine.Store().CreateService(c.Request.Context(), svc); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": svc})
}

func (s *Server) updateService(c *gin.Context) {
	var req ServiceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	svc, err := s.engine.Store().UpdateService(c.Request.Context(), c.Param("id"), func(svc *database.Service) error {
		svc.Name = req.Name
		svc.Description = req.Description
		if req.Severity != "" {
			svc.Severity = req.Severity
		}
		svc.ContactIDs = req.ContactIDs
		return svc.Validate()
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": svc})
}

func (s *Server) deleteService(c *gin.Context) {
	if err := s.engine.DeleteService(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Service deleted successfully"})
}

func (s *Server) pauseService(c *gin.Context) {
	var req PauseRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
	}
	if req.AutoResume && req.Until == nil {
		badRequest(c, errors.New("auto_resume requires until"))
		return
	}
	s.applyManual(c, func() (*monitoring.Transition, error) {
		return s.engine.Pause(c.Request.Context(), c.Param("id"), req.Until, req.AutoResume)
	})
}

func (s *Server) resumeService(c *gin.Context) {
	s.applyManual(c, func() (*monitoring.Transition, error) {
		return s.engine.Resume(c.Request.Context(), c.Param("id"))
	})
}

// applyManual runs a pause or resume and answers with the resulting service.
// A guarded no-op is not an error.
func (s *Server) applyManual(c *gin.Context, fn func() (*monitoring.Transition, error)) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.engine.Store().GetService(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	t, err := fn()
	if err != nil {
		respondError(c, err)
		return
	}
	svc, err := s.engine.Store().GetService(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": svc, "changed": t != nil})
}

// ---- dependencies ----

func (s *Server) getDependencies(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if _, err := s.engine.Store().GetService(ctx, id); err != nil {
		respondError(c, err)
		return
	}
	edges, err := s.engine.Store().GetDependencies(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	graph := monitoring.NewGraph(edges)

	direct := []database.ServiceDependency{}
	for _, e := range edges {
		if e.DependentServiceID == id {
			direct = append(direct, e)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"data":                    direct,
		"transitive_dependencies": graph.TransitiveDependencyIDs(id),
		"transitive_dependents":   graph.TransitiveDependentIDs(id),
	})
}

func (s *Server) addDependency(c *gin.Context) {
	var req DependencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	ctx := c.Request.Context()
	for _, id := range []string{c.Param("id"), req.DependencyID} {
		if _, err := s.engine.Store().GetService(ctx, id); err != nil {
			respondError(c, err)
			return
		}
	}

	dep, err := s.engine.AddDependency(ctx, c.Param("id"), req.DependencyID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": dep})
}

func (s *Server) removeDependency(c *gin.Context) {
	if err := s.engine.RemoveDependency(c.Request.Context(), c.Param("id"), c.Param("dependencyId")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Dependency removed"})
}

// ---- mute windows ----

func (s *Server) getMuteWindows(c *gin.Context) {
	windows, err := s.engine.Store().GetMuteWindows(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	now := s.engine.Clock().Now()
	active := false
	for _, w := range windows {
		if w.Active(now) {
			active = true
		}
	}
	c.JSON(http.StatusOK, gin.H{"data": windows, "count": len(windows), "muted": active})
}

func (s *Server) createMuteWindow(c *gin.Context) {
	var req MuteWindowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !req.EndsAt.After(req.StartsAt) {
		badRequest(c, errors.New("ends_at must be after starts_at"))
		return
	}

	ctx := c.Request.Context()
	if _, err := s.engine.Store().GetService(ctx, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	window := &database.MuteWindow{
		ServiceID: c.Param("id"),
		StartsAt:  req.StartsAt.UTC(),
		EndsAt:    req.EndsAt.UTC(),
		Reason:    req.Reason,
		CreatedAt: s.engine.Clock().Now(),
	}
	if err := s.engine.Store().CreateMuteWindow(ctx, window); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": window})
}

func (s *Server) deleteMuteWindow(c *gin.Context) {
	if err := s.engine.Store().DeleteMuteWindow(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Mute window deleted"})
}

// ---- monitors ----

func (s *Server) getMonitors(c *gin.Context) {
	filters := database.MonitorFilters{
		ServiceID: c.Query("service_id"),
		Type:      database.MonitorType(c.Query("type")),
	}
	monitors, err := s.engine.Store().GetMonitors(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": monitors, "count": len(monitors)})
}

func (s *Server) getMonitor(c *gin.Context) {
	m, err := s.engine.Store().GetMonitor(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": m})
}

func (s *Server) createMonitor(c *gin.Context) {
	var m database.Monitor
	if err := c.ShouldBindJSON(&m); err != nil {
		badRequest(c, err)
		return
	}

	// runtime fields are owned by the engine
	m.ID = ""
	m.CreatedAt = time.Time{}
	if m.Heartbeat != nil {
		m.Heartbeat.LastCheckIn = nil
	}
	if m.HealthCheck != nil {
		m.HealthCheck.LastCheckedAt = nil
	}
	if m.Metric != nil {
		m.Metric.LastValue = nil
		m.Metric.LastValueAt = nil
	}

	m.ApplyDefaults()
	if err := m.Validate(); err != nil {
		respondError(c, err)
		return
	}
	if err := s.engine.Store().CreateMonitor(c.Request.Context(), &m); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": m})
}

func (s *Server) deleteMonitor(c *gin.Context) {
	if err := s.engine.Store().DeleteMonitor(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Monitor deleted successfully"})
}

func (s *Server) getEvents(c *gin.Context) {
	now := s.engine.Clock().Now()
	from, ok := timeQuery(c, "from", now.Add(-24*time.Hour))
	if !ok {
		return
	}
	to, ok := timeQuery(c, "to", now)
	if !ok {
		return
	}

	events, err := s.engine.Store().GetEvents(c.Request.Context(), c.Param("id"), from, to)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": events, "count": len(events)})
}

func (s *Server) getRollups(c *gin.Context) {
	granularity := database.Granularity(c.DefaultQuery("granularity", string(database.GranularityHourly)))
	switch granularity {
	case database.GranularityHourly, database.GranularityDaily, database.GranularityWeekly, database.GranularityMonthly:
	default:
		badRequest(c, errors.New("granularity must be hourly, daily, weekly or monthly"))
		return
	}

	now := s.engine.Clock().Now()
	var defaultSince time.Time
	if retention := monitoring.RetentionFor(granularity); retention > 0 {
		defaultSince = now.Add(-retention)
	} else {
		defaultSince = time.Unix(0, 0).UTC()
	}
	since, ok := timeQuery(c, "since", defaultSince)
	if !ok {
		return
	}

	rollups, err := s.engine.Store().GetRollups(c.Request.Context(), c.Param("id"), granularity, since)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": rollups, "count": len(rollups)})
}

// ---- alerts ----

func (s *Server) getAlerts(c *gin.Context) {
	filters := database.AlertFilters{
		ServiceID:    c.Query("service_id"),
		Undispatched: c.Query("undispatched") == "true",
	}
	if limitStr := c.Query("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit < 0 {
			badRequest(c, errors.New("limit must be a non-negative integer"))
			return
		}
		filters.Limit = limit
	}

	alerts, err := s.engine.Store().GetAlerts(c.Request.Context(), filters)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alerts, "count": len(alerts)})
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
	alert, err := s.engine.AcknowledgeAlert(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": alert})
}

// ---- contacts ----

func (s *Server) getContacts(c *gin.Context) {
	contacts, err := s.engine.Store().GetContacts(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": contacts, "count": len(contacts)})
}

func (s *Server) createContact(c *gin.Context) {
	var contact database.Contact
	if err := c.ShouldBindJSON(&contact); err != nil {
		badRequest(c, err)
		return
	}
	contact.ID = ""
	contact.CreatedAt = time.Time{}
	if err := contact.Validate(); err != nil {
		respondError(c, err)
		return
	}
	if err := s.engine.Store().SaveContact(c.Request.Context(), &contact); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": contact})
}

func (s *Server) deleteContact(c *gin.Context) {
	if err := s.engine.Store().DeleteContact(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Contact deleted successfully"})
}

func timeQuery(c *gin.Context, key string, def time.Time) (time.Time, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, errors.New(key+" must be an RFC3339 timestamp"))
		return time.Time{}, false
	}
	return t.UTC(), true
}
