package protocol

// Command kinds understood by remote clients. The args of each kind are
// carried on the wire as a JSON array of strings; DecodePayload turns them
// into a typed payload at the point of use.
const (
	KindChangePassword = "changePassword"
	KindReboot         = "reboot"
	KindLockScreen     = "lockScreen"
	KindUnlockScreen   = "unlockScreen"
)

// KnownKind reports whether kind is one an agent can execute.
func KnownKind(kind string) bool {
	switch kind {
	case KindChangePassword, KindReboot, KindLockScreen, KindUnlockScreen:
		return true
	}
	return false
}

// CommandDescriptor is the unit of work handed to a client by a poll.
type CommandDescriptor struct {
	ID   uint     `json:"id"`
	Kind string   `json:"kind"`
	Args []string `json:"args"`
}

// Response is the envelope every protocol endpoint returns.
type Response struct {
	Success bool               `json:"success"`
	Message string             `json:"message"`
	Data    *CommandDescriptor `json:"data,omitempty"`
}

// RegisterRequest enrolls a client under an externally generated ID.
type RegisterRequest struct {
	ClientID string `json:"clientId" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// ReportFailureRequest marks an in-flight command as failed on the client.
type ReportFailureRequest struct {
	ClientID       string `json:"clientId" binding:"required"`
	CommandID      uint   `json:"commandId" binding:"required"`
	ReportedResult string `json:"reportedResult" binding:"required"`
}

// SubmitCredentialRequest completes a changePassword command with the
// credential the client now holds.
type SubmitCredentialRequest struct {
	ClientID      string `json:"clientId" binding:"required"`
	CommandID     uint   `json:"commandId" binding:"required"`
	NewCredential string `json:"newCredential" binding:"required"`
}

// ClientSummary is the admin-facing view of a client. The credential is
// deliberately absent.
type ClientSummary struct {
	ClientID        string `json:"clientId"`
	IP              string `json:"ip"`
	LastHeartbeatAt string `json:"lastHeartbeatAt"`
	Online          bool   `json:"online"`
}
