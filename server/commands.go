package main

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var ErrUnknownClient = errors.New("unknown client")

// CommandQueue is the persistent record of commands issued to clients.
type CommandQueue struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewCommandQueue(db *gorm.DB, logger zerolog.Logger) *CommandQueue {
	return &CommandQueue{
		db:     db,
		logger: logger.With().Str("component", "commands").Logger(),
	}
}

// Enqueue creates a running command for a known client. Any prior running
// command of the same kind is force-failed first, so a client that missed
// a report and re-polls never executes two copies of the same work.
func (q *CommandQueue) Enqueue(clientID, kind string, args []string, displayText string) (*Command, error) {
	var count int64
	if err := q.db.Model(&Client{}).Where("client_id = ?", clientID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, ErrUnknownClient
	}

	if err := q.InvalidateByKind(clientID, kind); err != nil {
		return nil, err
	}

	cmd := &Command{
		ClientID:    clientID,
		Kind:        kind,
		Args:        encodeArgs(args),
		DisplayText: displayText,
		Status:      StatusRunning,
	}
	if err := q.db.Create(cmd).Error; err != nil {
		return nil, err
	}
	return cmd, nil
}

func (q *CommandQueue) ListByClient(clientID string) ([]Command, error) {
	var commands []Command
	if err := q.db.Where("client_id = ?", clientID).Order("id").Find(&commands).Error; err != nil {
		return nil, err
	}
	return commands, nil
}

func (q *CommandQueue) ListByClientAndStatus(clientID, status string) ([]Command, error) {
	var commands []Command
	err := q.db.Where("client_id = ? AND status = ?", clientID, status).Order("id").Find(&commands).Error
	if err != nil {
		return nil, err
	}
	return commands, nil
}

func (q *CommandQueue) GetByClientAndID(clientID string, commandID uint) (*Command, error) {
	var cmd Command
	if err := q.db.Where("client_id = ? AND id = ?", clientID, commandID).First(&cmd).Error; err != nil {
		return nil, err
	}
	return &cmd, nil
}

// SetStatus applies a status transition keyed on (clientID, commandID).
// Only rows still in running status match, so a replayed report can never
// resurrect or overwrite a command that already reached a terminal state.
// Returns false when no row matched; callers treat that as a stale,
// foreign, or already-terminal command, not a fault. Terminal transitions
// stamp ReportedAt.
func (q *CommandQueue) SetStatus(clientID string, commandID uint, status, reportedResult string) (bool, error) {
	updates := map[string]interface{}{
		"status":          status,
		"reported_result": reportedResult,
	}
	if status == StatusFinished || status == StatusFailed {
		now := time.Now().UTC()
		updates["reported_at"] = &now
	}

	result := q.db.Model(&Command{}).
		Where("client_id = ? AND id = ? AND status = ?", clientID, commandID, StatusRunning).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// InvalidateByKind force-fails every running command of the given kind for
// the client. Zero matched rows is the common case.
func (q *CommandQueue) InvalidateByKind(clientID, kind string) error {
	now := time.Now().UTC()
	result := q.db.Model(&Command{}).
		Where("client_id = ? AND kind = ? AND status = ?", clientID, kind, StatusRunning).
		Updates(map[string]interface{}{
			"status":          StatusFailed,
			"reported_result": resultInvalidated,
			"reported_at":     &now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		q.logger.Info().
			Str("client_id", clientID).
			Str("kind", kind).
			Int64("count", result.RowsAffected).
			Msg("invalidated stale running commands")
	}
	return nil
}
