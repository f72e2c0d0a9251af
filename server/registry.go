package main

import (
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var ErrClientExists = errors.New("client already registered")

// Registry is the persistent record of known remote clients.
type Registry struct {
	db             *gorm.DB
	logger         zerolog.Logger
	rotationPeriod time.Duration
	onlineWindow   time.Duration
}

func NewRegistry(db *gorm.DB, logger zerolog.Logger, rotationPeriod, onlineWindow time.Duration) *Registry {
	return &Registry{
		db:             db,
		logger:         logger.With().Str("component", "registry").Logger(),
		rotationPeriod: rotationPeriod,
		onlineWindow:   onlineWindow,
	}
}

// Register creates a client record. The credential expiry is seeded in the
// past so the very first poll triggers a rotation, replacing the bootstrap
// password the client registered with.
func (r *Registry) Register(clientID, credential, originIP string) (*Client, error) {
	now := time.Now().UTC()
	client := &Client{
		ClientID:         clientID,
		CurrentPassword:  credential,
		PasswordExpireAt: now.Add(-time.Minute),
		OriginIP:         originIP,
		LastHeartbeatAt:  now,
	}
	if err := r.db.Create(client).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) || isUniqueViolation(err) {
			return nil, ErrClientExists
		}
		return nil, err
	}
	return client, nil
}

func (r *Registry) Get(clientID string) (*Client, error) {
	var client Client
	if err := r.db.Where("client_id = ?", clientID).First(&client).Error; err != nil {
		return nil, err
	}
	return &client, nil
}

// ListAll returns a full snapshot of the registry.
func (r *Registry) ListAll() ([]Client, error) {
	var clients []Client
	if err := r.db.Order("client_id").Find(&clients).Error; err != nil {
		return nil, err
	}
	return clients, nil
}

// TouchHeartbeat stamps the client's liveness timestamp. A missing client
// is a no-op; it only warrants a warning because the caller should have
// checked existence first.
func (r *Registry) TouchHeartbeat(clientID string) {
	result := r.db.Model(&Client{}).
		Where("client_id = ?", clientID).
		Update("last_heartbeat_at", time.Now().UTC())
	if result.Error != nil {
		r.logger.Error().Err(result.Error).Str("client_id", clientID).Msg("heartbeat update failed")
		return
	}
	if result.RowsAffected == 0 {
		r.logger.Warn().Str("client_id", clientID).Msg("heartbeat for unknown client")
	}
}

// Remove deletes a client record. Idempotent. Removing a client that is
// still online points at a logic bug upstream, so it is flagged.
func (r *Registry) Remove(clientID string) {
	client, err := r.Get(clientID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			r.logger.Warn().Str("client_id", clientID).Msg("remove of unknown client")
		} else {
			r.logger.Error().Err(err).Str("client_id", clientID).Msg("remove lookup failed")
		}
		return
	}
	if client.Online(time.Now().UTC(), r.onlineWindow) {
		r.logger.Warn().Str("client_id", clientID).Msg("removing client that is still online")
	}
	if err := r.db.Where("client_id = ?", clientID).Delete(&Client{}).Error; err != nil {
		r.logger.Error().Err(err).Str("client_id", clientID).Msg("remove failed")
	}
}

// SetCredential installs a freshly rotated credential and schedules the
// next rotation. Any staged pending password is consumed.
func (r *Registry) SetCredential(clientID, newCredential string) error {
	now := time.Now().UTC()
	return r.setCredentialTx(r.db, clientID, newCredential, now)
}

func (r *Registry) setCredentialTx(tx *gorm.DB, clientID, newCredential string, now time.Time) error {
	result := tx.Model(&Client{}).
		Where("client_id = ?", clientID).
		Updates(map[string]interface{}{
			"current_password":   newCredential,
			"password_expire_at": now.Add(r.rotationPeriod),
			"pending_password":   "",
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// InvalidateCredential force-expires the current credential so the next
// poll rotates out of band.
func (r *Registry) InvalidateCredential(clientID string) error {
	result := r.db.Model(&Client{}).
		Where("client_id = ?", clientID).
		Update("password_expire_at", time.Now().UTC().Add(-time.Second))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// StagePassword records an administrator-chosen next credential. The value
// travels to the client in the rotation command issued by its next poll.
func (r *Registry) StagePassword(clientID, next string) error {
	result := r.db.Model(&Client{}).
		Where("client_id = ?", clientID).
		Update("pending_password", next)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// The sqlite driver reports unique-index violations as plain errors, not
// gorm.ErrDuplicatedKey, when translation is off.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique")
}
