package main

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/campuskit/remotehub/pkg/protocol"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func (s *Server) registerAdminRoutes(r *gin.Engine) {
	r.GET("/v1/clients", s.requireAdmin, s.handleListClients)

	admin := r.Group("/v1/admin", s.requireAdmin)
	admin.GET("/clients/:client_id/commands", s.handleListCommands)
	admin.POST("/clients/:client_id/commands", s.handleEnqueueCommand)
	admin.PUT("/clients/:client_id/password", s.handleStagePassword)
	admin.POST("/clients/:client_id/rotate", s.handleForceRotation)
	admin.DELETE("/clients/:client_id", s.handleRemoveClient)
}

func (s *Server) requireAdmin(c *gin.Context) {
	if s.cfg.AdminToken == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin API disabled"})
		return
	}
	authz := c.GetHeader("Authorization")
	if !strings.HasPrefix(authz, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	token := strings.TrimPrefix(authz, "Bearer ")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bearer token"})
		return
	}
	c.Next()
}

// handleListClients returns the panel-facing snapshot. Credentials never
// leave the server.
func (s *Server) handleListClients(c *gin.Context) {
	clients, err := s.registry.ListAll()
	if err != nil {
		s.respondInternal(c, err)
		return
	}

	now := time.Now().UTC()
	out := make([]protocol.ClientSummary, 0, len(clients))
	for _, client := range clients {
		out = append(out, protocol.ClientSummary{
			ClientID:        client.ClientID,
			IP:              client.OriginIP,
			LastHeartbeatAt: client.LastHeartbeatAt.Format(time.RFC3339),
			Online:          client.Online(now, s.onlineWindow),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleListCommands(c *gin.Context) {
	clientID := c.Param("client_id")
	status := c.Query("status")

	var (
		commands []Command
		err      error
	)
	if status == "" {
		commands, err = s.queue.ListByClient(clientID)
	} else {
		commands, err = s.queue.ListByClientAndStatus(clientID, status)
	}
	if err != nil {
		s.respondInternal(c, err)
		return
	}

	out := make([]gin.H, 0, len(commands))
	for _, cmd := range commands {
		out = append(out, gin.H{
			"id":             cmd.ID,
			"kind":           cmd.Kind,
			"args":           cmd.ArgsList(),
			"displayText":    cmd.DisplayText,
			"status":         cmd.Status,
			"reportedResult": cmd.ReportedResult,
			"createdAt":      cmd.CreatedAt,
			"reportedAt":     cmd.ReportedAt,
		})
	}
	c.JSON(http.StatusOK, out)
}

// handleEnqueueCommand queues operator-issued work for a client. The args
// are validated against the kind's payload shape before anything persists.
func (s *Server) handleEnqueueCommand(c *gin.Context) {
	clientID := c.Param("client_id")

	var req struct {
		Kind        string   `json:"kind" binding:"required"`
		Args        []string `json:"args"`
		DisplayText string   `json:"displayText"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondCallerError(c, "missing or malformed fields")
		return
	}
	if _, err := protocol.DecodePayload(req.Kind, req.Args); err != nil {
		s.respondCallerError(c, err.Error())
		return
	}

	unlock := s.locks.lock(clientID)
	defer unlock()

	cmd, err := s.queue.Enqueue(clientID, req.Kind, req.Args, req.DisplayText)
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			s.respondNotFound(c, "unknown client")
			return
		}
		s.respondInternal(c, err)
		return
	}

	respondSuccess(c, "command queued", &protocol.CommandDescriptor{
		ID:   cmd.ID,
		Kind: cmd.Kind,
		Args: cmd.ArgsList(),
	})
}

// handleStagePassword records an administrator-chosen next credential; the
// client's next poll carries it in the rotation command.
func (s *Server) handleStagePassword(c *gin.Context) {
	clientID := c.Param("client_id")

	var req struct {
		NextPassword string `json:"nextPassword" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondCallerError(c, "missing or malformed fields")
		return
	}
	if err := protocol.ValidateCredential(req.NextPassword); err != nil {
		s.respondCallerError(c, resultInvalidFormat)
		return
	}

	if err := s.registry.StagePassword(clientID, req.NextPassword); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondNotFound(c, "unknown client")
			return
		}
		s.respondInternal(c, err)
		return
	}
	respondSuccess(c, "password staged", nil)
}

// handleForceRotation expires the current credential out of band.
func (s *Server) handleForceRotation(c *gin.Context) {
	clientID := c.Param("client_id")
	if err := s.registry.InvalidateCredential(clientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondNotFound(c, "unknown client")
			return
		}
		s.respondInternal(c, err)
		return
	}
	respondSuccess(c, "rotation forced", nil)
}

// handleRemoveClient deletes a client on operator request. Still-running
// commands are terminated first; finished history is kept for audit.
func (s *Server) handleRemoveClient(c *gin.Context) {
	clientID := c.Param("client_id")

	if _, err := s.registry.Get(clientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondNotFound(c, "unknown client")
			return
		}
		s.respondInternal(c, err)
		return
	}

	unlock := s.locks.lock(clientID)
	defer unlock()

	running, err := s.queue.ListByClientAndStatus(clientID, StatusRunning)
	if err != nil {
		s.respondInternal(c, err)
		return
	}
	for _, cmd := range running {
		if _, err := s.queue.SetStatus(clientID, cmd.ID, StatusFailed, resultClientRemoved); err != nil {
			s.respondInternal(c, err)
			return
		}
	}

	s.registry.Remove(clientID)
	respondSuccess(c, "client removed", nil)
}
