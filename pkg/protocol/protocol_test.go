package protocol

import (
	"errors"
	"testing"
)

func TestValidateCredential(t *testing.T) {
	cases := []struct {
		name       string
		credential string
		wantErr    error
	}{
		{"accepts mixed alnum", "abcDEF123", nil},
		{"accepts exactly six", "abc123", nil},
		{"rejects five chars", "abc12", ErrCredentialTooShort},
		{"rejects empty", "", ErrCredentialTooShort},
		{"rejects punctuation", "abc!123", ErrCredentialCharset},
		{"rejects spaces", "abc 123", ErrCredentialCharset},
		{"rejects unicode letters", "пароль12", ErrCredentialCharset},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ValidateCredential(tc.credential)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("ValidateCredential(%q) = %v, want %v", tc.credential, err, tc.wantErr)
			}
		})
	}
}

func TestGenerateCredentialPassesPolicy(t *testing.T) {
	for _, length := range []int{0, 6, 12, 32} {
		cred, err := GenerateCredential(length)
		if err != nil {
			t.Fatalf("generate failed: %v", err)
		}
		if err := ValidateCredential(cred); err != nil {
			t.Fatalf("generated credential %q rejected: %v", cred, err)
		}
	}
}

func TestDecodePayloadChangePassword(t *testing.T) {
	p, err := DecodePayload(KindChangePassword, []string{"staged99"})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	cp, ok := p.(ChangePasswordPayload)
	if !ok {
		t.Fatalf("unexpected payload type %T", p)
	}
	if cp.NextPassword != "staged99" {
		t.Fatalf("staged value lost: %q", cp.NextPassword)
	}

	p, err = DecodePayload(KindChangePassword, nil)
	if err != nil {
		t.Fatalf("decode of empty args failed: %v", err)
	}
	if p.(ChangePasswordPayload).NextPassword != "" {
		t.Fatal("empty args should mean client-generated credential")
	}

	if _, err := DecodePayload(KindChangePassword, []string{"a", "b"}); err == nil {
		t.Fatal("expected error for extra args")
	}
}

func TestDecodePayloadRejectsUnknownKind(t *testing.T) {
	if _, err := DecodePayload("selfDestruct", nil); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestPayloadArgsRoundTrip(t *testing.T) {
	payloads := []Payload{
		ChangePasswordPayload{NextPassword: "next123"},
		ChangePasswordPayload{},
		RebootPayload{},
		LockScreenPayload{Message: "class in session"},
		UnlockScreenPayload{},
	}
	for _, p := range payloads {
		decoded, err := DecodePayload(p.CommandKind(), p.Args())
		if err != nil {
			t.Fatalf("%s: round trip failed: %v", p.CommandKind(), err)
		}
		if decoded != p {
			t.Fatalf("%s: got %#v, want %#v", p.CommandKind(), decoded, p)
		}
	}
}
