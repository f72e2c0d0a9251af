package main

import (
	"time"

	"github.com/campuskit/remotehub/pkg/protocol"
)

// rotationDue decides whether a client must rotate its credential: either
// the current one has expired, or an administrator staged a replacement.
// Pure function, no I/O.
func rotationDue(client *Client, now time.Time) bool {
	return client.PasswordExpireAt.Before(now) || client.PendingPassword != ""
}

// rotationPayload selects the value pushed with a rotation command. A
// staged pending password is forwarded; otherwise the args stay empty and
// the client generates the credential itself, confirming it through
// submit-credential. The server never invents the value during a poll.
func rotationPayload(client *Client) protocol.ChangePasswordPayload {
	return protocol.ChangePasswordPayload{NextPassword: client.PendingPassword}
}
