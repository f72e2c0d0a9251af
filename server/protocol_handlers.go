package main

import (
	"errors"
	"net/http"

	"github.com/campuskit/remotehub/pkg/protocol"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

func (s *Server) registerProtocolRoutes(r *gin.Engine) {
	r.POST("/v1/clients/register", s.handleRegister)
	r.GET("/v1/clients/:client_id/poll", s.handlePoll)
	r.POST("/v1/clients/report-failure", s.handleReportFailure)
	r.POST("/v1/clients/submit-credential", s.handleSubmitCredential)
}

// handleRegister enrolls a client under its externally generated ID and
// binds it to the origin address of this request. Re-registration from the
// same origin is idempotent; from a different origin it is refused, since
// that smells like credential theft or an unannounced address change.
func (s *Server) handleRegister(c *gin.Context) {
	var req protocol.RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondCallerError(c, "missing or malformed fields")
		return
	}

	origin := c.ClientIP()
	existing, err := s.registry.Get(req.ClientID)
	switch {
	case err == nil:
		if existing.OriginIP == origin {
			respondSuccess(c, "already registered", nil)
			return
		}
		logger := requestLogger(c, s.logger)
		logger.Error().
			Str("client_id", req.ClientID).
			Str("registered_ip", existing.OriginIP).
			Str("request_ip", origin).
			Msg("registration origin conflict")
		s.respondConflict(c, "client ID registered from a different origin")
	case errors.Is(err, gorm.ErrRecordNotFound):
		if _, err := s.registry.Register(req.ClientID, req.Password, origin); err != nil {
			if errors.Is(err, ErrClientExists) {
				s.respondConflict(c, "client ID registered from a different origin")
				return
			}
			s.respondInternal(c, err)
			return
		}
		respondSuccess(c, "registered", nil)
	default:
		s.respondInternal(c, err)
	}
}

// handlePoll is the heartbeat plus work-pull step. The heartbeat is always
// touched last, after the command-issuance decision.
func (s *Server) handlePoll(c *gin.Context) {
	clientID := c.Param("client_id")

	client, err := s.registry.Get(clientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondNotFound(c, "unknown client")
			return
		}
		s.respondInternal(c, err)
		return
	}

	unlock := s.locks.lock(clientID)
	defer unlock()

	if !rotationDue(client, s.now()) {
		s.registry.TouchHeartbeat(clientID)
		respondSuccess(c, "no update", nil)
		return
	}

	// Enqueue force-fails any stale running rotation of the same kind
	// before inserting the new one.
	payload := rotationPayload(client)
	cmd, err := s.queue.Enqueue(clientID, protocol.KindChangePassword, payload.Args(), "scheduled credential rotation")
	if err != nil {
		if errors.Is(err, ErrUnknownClient) {
			// Client vanished between the lookup and the enqueue.
			s.respondNotFound(c, "unknown client")
			return
		}
		s.respondInternal(c, err)
		return
	}

	s.registry.TouchHeartbeat(clientID)
	respondSuccess(c, "update", &protocol.CommandDescriptor{
		ID:   cmd.ID,
		Kind: cmd.Kind,
		Args: cmd.ArgsList(),
	})
}

// handleReportFailure records a client-side execution failure for an
// in-flight command.
func (s *Server) handleReportFailure(c *gin.Context) {
	var req protocol.ReportFailureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondCallerError(c, "missing or malformed fields")
		return
	}

	if _, err := s.registry.Get(req.ClientID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondNotFound(c, "unknown client")
			return
		}
		s.respondInternal(c, err)
		return
	}

	matched, err := s.queue.SetStatus(req.ClientID, req.CommandID, StatusFailed, req.ReportedResult)
	if err != nil {
		s.respondInternal(c, err)
		return
	}
	if !matched {
		// No running row. Either the command never existed for this client
		// or it already reached a terminal state; a terminal one stays
		// exactly as it completed.
		if _, err := s.queue.GetByClientAndID(req.ClientID, req.CommandID); err == nil {
			s.respondReplay(c, "obsolete commandId")
			return
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondInternal(c, err)
			return
		}
		s.respondNotFound(c, "invalid commandId")
		return
	}

	s.registry.TouchHeartbeat(req.ClientID)
	respondSuccess(c, "failure recorded", nil)
}

// handleSubmitCredential completes a changePassword command. Guards, in
// order: credential format, client existence, origin binding, command
// existence, command still running. The credential install, the terminal
// status transition, and the obsolete-command re-check run in one
// transaction under the client's lock, so a retried call after success
// lands on "obsolete commandId" and changes nothing.
func (s *Server) handleSubmitCredential(c *gin.Context) {
	var req protocol.SubmitCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondCallerError(c, "missing or malformed fields")
		return
	}

	if err := protocol.ValidateCredential(req.NewCredential); err != nil {
		// Fail the command too, so it does not sit running forever while
		// the client keeps submitting an unusable value. SetStatus only
		// matches running rows, so a finished command replayed with a bad
		// value stays finished; a no-match here is benign.
		if _, err := s.queue.SetStatus(req.ClientID, req.CommandID, StatusFailed, resultInvalidFormat); err != nil {
			logger := requestLogger(c, s.logger)
			logger.Error().Err(err).Msg("failed to fail command with bad credential")
		}
		s.respondCallerError(c, resultInvalidFormat)
		return
	}

	client, err := s.registry.Get(req.ClientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.respondNotFound(c, "unknown client")
			return
		}
		s.respondInternal(c, err)
		return
	}

	if origin := c.ClientIP(); origin != client.OriginIP {
		logger := requestLogger(c, s.logger)
		logger.Error().
			Str("client_id", req.ClientID).
			Str("registered_ip", client.OriginIP).
			Str("request_ip", origin).
			Msg("credential submission from unbound origin, suspected spoof")
		s.respondConflict(c, "origin mismatch")
		return
	}

	unlock := s.locks.lock(req.ClientID)
	defer unlock()

	cmd, err := s.queue.GetByClientAndID(req.ClientID, req.CommandID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Error-level rather than the usual not-found warn: a made-up
			// command ID here may be tampering.
			logger := requestLogger(c, s.logger)
			logger.Error().
				Str("client_id", req.ClientID).
				Uint("command_id", req.CommandID).
				Msg("credential submission for unknown command")
			c.AbortWithStatusJSON(http.StatusNotFound, protocol.Response{Success: false, Message: "invalid commandId"})
			return
		}
		s.respondInternal(c, err)
		return
	}
	if cmd.Terminal() {
		s.respondReplay(c, "obsolete commandId")
		return
	}

	if err := s.applyRotation(req.ClientID, req.CommandID, req.NewCredential); err != nil {
		if errors.Is(err, errObsoleteCommand) {
			s.respondReplay(c, "obsolete commandId")
			return
		}
		s.respondInternal(c, err)
		return
	}

	s.registry.TouchHeartbeat(req.ClientID)
	respondSuccess(c, resultCredentialUpdated, nil)
}

var errObsoleteCommand = errors.New("command no longer running")

// applyRotation finishes the command and installs the credential as one
// transaction. The status update doubles as the atomic still-running check:
// zero matched rows means another call got here first.
func (s *Server) applyRotation(clientID string, commandID uint, newCredential string) error {
	now := s.now()
	return s.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&Command{}).
			Where("client_id = ? AND id = ? AND status = ?", clientID, commandID, StatusRunning).
			Updates(map[string]interface{}{
				"status":          StatusFinished,
				"reported_result": resultCredentialUpdated,
				"reported_at":     &now,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errObsoleteCommand
		}
		return s.registry.setCredentialTx(tx, clientID, newCredential, now)
	})
}
