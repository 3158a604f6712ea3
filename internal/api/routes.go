package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func (s *Server) registerRoutes() {
	v1 := s.router.Group("/api/v1")

	v1.GET("/health", s.handleHealth)
	v1.GET("/sessions", s.handleListSessions)
	v1.GET("/sessions/:name", s.handleGetSession)
	v1.POST("/sessions/:name/start", s.handleStartSession)
	v1.POST("/sessions/:name/stop", s.handleStopSession)
	v1.POST("/sessions/:name/reconnect", s.handleReconnectSession)
	v1.POST("/sessions/:name/guard-code", s.handleGuardCode)
	v1.POST("/sessions/:name/two-factor", s.handleTwoFactor)
	v1.POST("/sessions/:name/chat", s.handleSendChat)
	v1.GET("/sessions/:name/keys", s.handleListKeys)
	v1.POST("/sessions/:name/keys", s.handleEnqueueKeys)
	v1.GET("/sessions/:name/redemptions", s.handleRedemptionHistory)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": s.registry.Statuses()})
}

func (s *Server) handleGetSession(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	c.JSON(http.StatusOK, sess.Status())
}

func (s *Server) handleStartSession(c *gin.Context) {
	sess, err := s.registry.Add(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	sess.Start()
	c.JSON(http.StatusOK, sess.Status())
}

func (s *Server) handleStopSession(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	sess.Stop()
	c.JSON(http.StatusOK, sess.Status())
}

func (s *Server) handleReconnectSession(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	sess.Reconnect()
	c.JSON(http.StatusOK, sess.Status())
}

type codeRequest struct {
	Code string `json:"code" binding:"required"`
}

func (s *Server) handleGuardCode(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess.SupplyGuardCode(req.Code)
	c.JSON(http.StatusAccepted, gin.H{"status": "retrying"})
}

func (s *Server) handleTwoFactor(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	var req codeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sess.SupplyTwoFactorCode(req.Code)
	c.JSON(http.StatusAccepted, gin.H{"status": "retrying"})
}

type chatRequest struct {
	GroupID uint64 `json:"group_id"`
	Message string `json:"message" binding:"required"`
}

func (s *Server) handleSendChat(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	groupID := req.GroupID
	if groupID == 0 {
		groupID = sess.MasterChatGroupID()
	}
	if groupID == 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "no chat group available"})
		return
	}

	// Chunked sends can take a while; don't hold the handler.
	go func() {
		if err := sess.SendChatMessage(groupID, req.Message); err != nil {
			log.Error().Err(err).Str("account", sess.Name()).Msg("chat send failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "sending"})
}

func (s *Server) handleListKeys(c *gin.Context) {
	keys, err := s.queue.Pending(c.Param("name"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"keys": keys})
}

type enqueueRequest struct {
	Keys []struct {
		Name string `json:"name"`
		Key  string `json:"key" binding:"required"`
	} `json:"keys" binding:"required"`
}

func (s *Server) handleEnqueueKeys(c *gin.Context) {
	sess, ok := s.registry.Get(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	var req enqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	for _, k := range req.Keys {
		if err := sess.EnqueueKey(k.Name, k.Key); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"enqueued": len(req.Keys)})
}

func (s *Server) handleRedemptionHistory(c *gin.Context) {
	records, err := s.queue.History(c.Param("name"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"redemptions": records})
}
