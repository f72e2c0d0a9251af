package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// LivenessMonitor prunes clients whose heartbeat has aged past the dead
// window, failing their orphaned running commands first so nothing is left
// permanently in flight.
type LivenessMonitor struct {
	registry     *Registry
	queue        *CommandQueue
	locks        *clientLocks
	logger       zerolog.Logger
	interval     time.Duration
	onlineWindow time.Duration
	deadWindow   time.Duration
}

func NewLivenessMonitor(registry *Registry, queue *CommandQueue, locks *clientLocks, logger zerolog.Logger, interval, onlineWindow, deadWindow time.Duration) *LivenessMonitor {
	return &LivenessMonitor{
		registry:     registry,
		queue:        queue,
		locks:        locks,
		logger:       logger.With().Str("component", "liveness").Logger(),
		interval:     interval,
		onlineWindow: onlineWindow,
		deadWindow:   deadWindow,
	}
}

// Run sweeps once immediately, then on every tick until the context ends.
func (m *LivenessMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.SweepOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.SweepOnce()
		}
	}
}

// SweepOnce snapshots the registry and prunes every dead client. Each
// client's prune is isolated: one failure never aborts the rest of the
// sweep.
func (m *LivenessMonitor) SweepOnce() {
	start := time.Now()
	clients, err := m.registry.ListAll()
	if err != nil {
		m.logger.Error().Err(err).Msg("sweep snapshot failed")
		return
	}

	now := time.Now().UTC()
	var pruned int
	for i := range clients {
		if !clients[i].Dead(now, m.onlineWindow, m.deadWindow) {
			continue
		}
		if m.pruneClient(clients[i].ClientID) {
			pruned++
		}
	}

	if pruned > 0 {
		m.logger.Info().
			Int("scanned", len(clients)).
			Int("pruned", pruned).
			Dur("elapsed", time.Since(start)).
			Msg("dead client sweep")
	}
}

// pruneClient removes one dead client under its lock. Liveness is
// re-checked after the lock is held: a poll racing the sweep may have
// revived the client between the snapshot and now.
func (m *LivenessMonitor) pruneClient(clientID string) bool {
	unlock := m.locks.lock(clientID)
	defer unlock()

	client, err := m.registry.Get(clientID)
	if err != nil {
		// Already gone, nothing to do.
		return false
	}
	if !client.Dead(time.Now().UTC(), m.onlineWindow, m.deadWindow) {
		return false
	}

	running, err := m.queue.ListByClientAndStatus(clientID, StatusRunning)
	if err != nil {
		m.logger.Error().Err(err).Str("client_id", clientID).Msg("listing running commands failed")
		return false
	}
	for _, cmd := range running {
		if _, err := m.queue.SetStatus(clientID, cmd.ID, StatusFailed, resultClientDead); err != nil {
			m.logger.Error().Err(err).
				Str("client_id", clientID).
				Uint("command_id", cmd.ID).
				Msg("failing orphaned command failed")
			// Leave the client in place; the next sweep retries, keeping
			// the guarantee that a dead client's commands never stay
			// running forever.
			return false
		}
	}

	m.registry.Remove(clientID)
	m.logger.Warn().
		Str("client_id", clientID).
		Int("orphaned_commands", len(running)).
		Msg("pruned dead client")
	return true
}
