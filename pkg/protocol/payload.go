package protocol

import (
	"errors"
	"fmt"
)

// Payload is the typed view of a command's args.
type Payload interface {
	CommandKind() string
	Args() []string
}

// ChangePasswordPayload carries the staged next credential, when an
// administrator chose one. An empty NextPassword tells the client to
// generate the value itself and confirm it via submit-credential.
type ChangePasswordPayload struct {
	NextPassword string
}

func (ChangePasswordPayload) CommandKind() string { return KindChangePassword }

func (p ChangePasswordPayload) Args() []string {
	if p.NextPassword == "" {
		return []string{}
	}
	return []string{p.NextPassword}
}

// RebootPayload asks the client machine to restart. No arguments.
type RebootPayload struct{}

func (RebootPayload) CommandKind() string { return KindReboot }
func (RebootPayload) Args() []string      { return []string{} }

// LockScreenPayload locks the client machine, optionally showing a message.
type LockScreenPayload struct {
	Message string
}

func (LockScreenPayload) CommandKind() string { return KindLockScreen }

func (p LockScreenPayload) Args() []string {
	if p.Message == "" {
		return []string{}
	}
	return []string{p.Message}
}

// UnlockScreenPayload releases a previously locked screen. No arguments.
type UnlockScreenPayload struct{}

func (UnlockScreenPayload) CommandKind() string { return KindUnlockScreen }
func (UnlockScreenPayload) Args() []string      { return []string{} }

var ErrUnknownKind = errors.New("unknown command kind")

// DecodePayload interprets a wire args array according to the command kind.
func DecodePayload(kind string, args []string) (Payload, error) {
	switch kind {
	case KindChangePassword:
		if len(args) > 1 {
			return nil, fmt.Errorf("changePassword takes at most one arg, got %d", len(args))
		}
		p := ChangePasswordPayload{}
		if len(args) == 1 {
			p.NextPassword = args[0]
		}
		return p, nil
	case KindReboot:
		if len(args) != 0 {
			return nil, fmt.Errorf("reboot takes no args, got %d", len(args))
		}
		return RebootPayload{}, nil
	case KindLockScreen:
		if len(args) > 1 {
			return nil, fmt.Errorf("lockScreen takes at most one arg, got %d", len(args))
		}
		p := LockScreenPayload{}
		if len(args) == 1 {
			p.Message = args[0]
		}
		return p, nil
	case KindUnlockScreen:
		if len(args) != 0 {
			return nil, fmt.Errorf("unlockScreen takes no args, got %d", len(args))
		}
		return UnlockScreenPayload{}, nil
	default:
		return nil, ErrUnknownKind
	}
}
