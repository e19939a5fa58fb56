package web

import (
	"net/http"

	"github.com/John-MustangGT/sentinel/internal/events"
	"github.com/John-MustangGT/sentinel/internal/peering"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type completeRequest struct {
	Token string `json:"token" binding:"required"`
}

type unpairRequest struct {
	URL string `json:"url" binding:"required"`
}

// POST /peers/pair/initiate
func (s *Server) initiatePairing(c *gin.Context) {
	token, err := s.pairing.Initiate(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// POST /peers/pair/accept - the secret in the body is the credential
func (s *Server) acceptPairing(c *gin.Context) {
	var req peering.AcceptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	resp, err := s.pairing.Accept(c.Request.Context(), &req)
	if err != nil {
		logrus.WithError(err).WithField("peer_url", req.URL).Warn("Pairing accept rejected")
		respondError(c, err)
		return
	}
	s.publish(events.TypePeerChanged, gin.H{"url": req.URL, "action": "accepted"})
	c.JSON(http.StatusOK, resp)
}

// POST /peers/pair/complete
func (s *Server) completePairing(c *gin.Context) {
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	peer, err := s.pairing.Complete(c.Request.Context(), req.Token)
	if err != nil {
		if _, known := classify(err); known == "" {
			// the remote side failed or was unreachable
			logrus.WithError(err).Warn("Pairing completion failed")
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		respondError(c, err)
		return
	}
	s.publish(events.TypePeerChanged, gin.H{"url": peer.URL, "action": "paired"})
	c.JSON(http.StatusCreated, gin.H{"data": peer})
}

// POST /peers/pair/unpair - reciprocal teardown requested by the remote
func (s *Server) remoteUnpair(c *gin.Context) {
	var req unpairRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := s.pairing.HandleRemoteUnpair(c.Request.Context(), req.URL); err != nil {
		respondError(c, err)
		return
	}
	s.publish(events.TypePeerChanged, gin.H{"url": req.URL, "action": "unpaired"})
	c.JSON(http.StatusOK, gin.H{"message": "Unpaired"})
}

func (s *Server) getPeers(c *gin.Context) {
	peers, err := s.engine.Store().GetPeers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": peers, "count": len(peers)})
}

// DELETE /api/peers/:id
func (s *Server) unpairPeer(c *gin.Context) {
	if err := s.pairing.Unpair(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	s.publish(events.TypePeerChanged, gin.H{"id": c.Param("id"), "action": "unpaired"})
	c.JSON(http.StatusOK, gin.H{"message": "Peer removed"})
}

func (s *Server) publish(eventType string, payload interface{}) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(events.Event{Type: eventType, Payload: payload, Time: s.engine.Clock().Now()})
}
