package main

import (
	"encoding/json"
	"time"
)

// Command lifecycle states. Running commands are the only ones a client may
// still act on; finished and failed are terminal.
const (
	StatusRunning  = "running"
	StatusFinished = "finished"
	StatusFailed   = "failed"
)

// Reported results written by the server itself.
const (
	resultInvalidated       = "invalidated by upcoming command of same kind"
	resultClientDead        = "client is dead"
	resultClientRemoved     = "client removed by administrator"
	resultInvalidFormat     = "invalid credential format"
	resultCredentialUpdated = "credential updated successfully"
)

// Client is a registered remote machine: identity, current credential,
// origin binding, and liveness timestamp.
type Client struct {
	ID               uint   `gorm:"primaryKey"`
	ClientID         string `gorm:"uniqueIndex"`
	CurrentPassword  string
	PasswordExpireAt time.Time
	PendingPassword  string
	OriginIP         string
	LastHeartbeatAt  time.Time `gorm:"index"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Online reports whether the client heartbeated within the online window.
// Liveness is always computed from the stored timestamp at read time.
func (c *Client) Online(now time.Time, onlineWindow time.Duration) bool {
	return now.Sub(c.LastHeartbeatAt) < onlineWindow
}

// Dead reports whether the client is eligible for pruning.
func (c *Client) Dead(now time.Time, onlineWindow, deadWindow time.Duration) bool {
	return !c.Online(now, onlineWindow) && now.Sub(c.LastHeartbeatAt) >= deadWindow
}

// Command is one unit of work queued for a client. ClientID is a plain
// indexed column rather than a database foreign key: command history is
// kept for audit after its client is deleted.
type Command struct {
	ID             uint   `gorm:"primaryKey"`
	ClientID       string `gorm:"index"`
	Kind           string `gorm:"index"`
	Args           string `gorm:"type:text"` // JSON array of strings
	DisplayText    string
	Status         string `gorm:"index"`
	ReportedResult string
	CreatedAt      time.Time
	ReportedAt     *time.Time
}

// Terminal reports whether the command can no longer change state.
func (cmd *Command) Terminal() bool {
	return cmd.Status == StatusFinished || cmd.Status == StatusFailed
}

// ArgsList decodes the stored JSON args array. A corrupt row yields an
// empty list rather than a failure so listings stay usable.
func (cmd *Command) ArgsList() []string {
	if cmd.Args == "" {
		return []string{}
	}
	var args []string
	if err := json.Unmarshal([]byte(cmd.Args), &args); err != nil {
		return []string{}
	}
	return args
}

func encodeArgs(args []string) string {
	if args == nil {
		args = []string{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "[]"
	}
	return string(data)
}
