package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/campuskit/remotehub/pkg/protocol"
	"github.com/stretchr/testify/require"
)

func (env testEnv) doAdmin(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	env.gin.ServeHTTP(resp, req)
	return resp
}

func TestAdminRequiresBearerToken(t *testing.T) {
	env := newTestEnv(t)

	resp := env.doAdmin(t, http.MethodGet, "/v1/clients", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)

	resp = env.doAdmin(t, http.MethodGet, "/v1/clients", "wrong-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAdminDisabledWithoutConfiguredToken(t *testing.T) {
	env := newTestEnv(t)
	env.server.cfg.AdminToken = ""

	resp := env.doAdmin(t, http.MethodGet, "/v1/clients", "anything", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestListClientsNeverExposesCredentials(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "C1", "secret-boot", "10.0.0.1")

	resp := env.doAdmin(t, http.MethodGet, "/v1/clients", "test-admin-token", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	require.NotContains(t, resp.Body.String(), "secret-boot")

	var clients []protocol.ClientSummary
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &clients))
	require.Len(t, clients, 1)
	require.Equal(t, "C1", clients[0].ClientID)
	require.Equal(t, "10.0.0.1", clients[0].IP)
	require.True(t, clients[0].Online)
}

func TestAdminEnqueueAndListCommands(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "C1", "p1", "10.0.0.1")

	resp := env.doAdmin(t, http.MethodPost, "/v1/admin/clients/C1/commands", "test-admin-token", map[string]any{
		"kind":        protocol.KindLockScreen,
		"args":        []string{"exam in progress"},
		"displayText": "lock during exam",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	var envelope protocol.Response
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &envelope))
	require.True(t, envelope.Success)
	require.NotNil(t, envelope.Data)
	require.Equal(t, protocol.KindLockScreen, envelope.Data.Kind)

	resp = env.doAdmin(t, http.MethodGet, "/v1/admin/clients/C1/commands?status=running", "test-admin-token", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var commands []map[string]any
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &commands))
	require.Len(t, commands, 1)
	require.Equal(t, "lock during exam", commands[0]["displayText"])
}

func TestAdminEnqueueValidatesKindAndArgs(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "C1", "p1", "10.0.0.1")

	resp := env.doAdmin(t, http.MethodPost, "/v1/admin/clients/C1/commands", "test-admin-token", map[string]any{
		"kind": "selfDestruct",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)

	resp = env.doAdmin(t, http.MethodPost, "/v1/admin/clients/C1/commands", "test-admin-token", map[string]any{
		"kind": protocol.KindReboot,
		"args": []string{"unexpected"},
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminEnqueueUnknownClient(t *testing.T) {
	env := newTestEnv(t)
	resp := env.doAdmin(t, http.MethodPost, "/v1/admin/clients/ghost/commands", "test-admin-token", map[string]any{
		"kind": protocol.KindReboot,
	})
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAdminStagePasswordFlowsIntoNextPoll(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "C1", "p1", "10.0.0.1")

	// Settle the bootstrap rotation first.
	_, envelope := env.do(t, http.MethodGet, "/v1/clients/C1/poll", "10.0.0.1", nil)
	require.NotNil(t, envelope.Data)
	_, envelope = env.do(t, http.MethodPost, "/v1/clients/submit-credential", "10.0.0.1", protocol.SubmitCredentialRequest{
		ClientID: "C1", CommandID: envelope.Data.ID, NewCredential: "settled1",
	})
	require.True(t, envelope.Success)

	resp := env.doAdmin(t, http.MethodPut, "/v1/admin/clients/C1/password", "test-admin-token", map[string]string{
		"nextPassword": "assigned9",
	})
	require.Equal(t, http.StatusOK, resp.Code)

	_, envelope = env.do(t, http.MethodGet, "/v1/clients/C1/poll", "10.0.0.1", nil)
	require.NotNil(t, envelope.Data)
	require.Equal(t, []string{"assigned9"}, envelope.Data.Args)
}

func TestAdminStagePasswordValidatesFormat(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "C1", "p1", "10.0.0.1")

	resp := env.doAdmin(t, http.MethodPut, "/v1/admin/clients/C1/password", "test-admin-token", map[string]string{
		"nextPassword": "no!",
	})
	require.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestAdminForceRotation(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "C1", "p1", "10.0.0.1")

	// Settle the bootstrap rotation so nothing is due.
	_, envelope := env.do(t, http.MethodGet, "/v1/clients/C1/poll", "10.0.0.1", nil)
	_, envelope = env.do(t, http.MethodPost, "/v1/clients/submit-credential", "10.0.0.1", protocol.SubmitCredentialRequest{
		ClientID: "C1", CommandID: envelope.Data.ID, NewCredential: "settled1",
	})
	require.True(t, envelope.Success)
	_, envelope = env.do(t, http.MethodGet, "/v1/clients/C1/poll", "10.0.0.1", nil)
	require.Equal(t, "no update", envelope.Message)

	resp := env.doAdmin(t, http.MethodPost, "/v1/admin/clients/C1/rotate", "test-admin-token", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	_, envelope = env.do(t, http.MethodGet, "/v1/clients/C1/poll", "10.0.0.1", nil)
	require.NotNil(t, envelope.Data)
	require.Equal(t, protocol.KindChangePassword, envelope.Data.Kind)
}

func TestAdminRemoveClientTerminatesRunningCommands(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "C1", "p1", "10.0.0.1")
	cmd, err := env.server.queue.Enqueue("C1", protocol.KindReboot, nil, "restart")
	require.NoError(t, err)

	resp := env.doAdmin(t, http.MethodDelete, "/v1/admin/clients/C1", "test-admin-token", nil)
	require.Equal(t, http.StatusOK, resp.Code)

	terminated := env.command(t, cmd.ID)
	require.Equal(t, StatusFailed, terminated.Status)
	require.Equal(t, resultClientRemoved, terminated.ReportedResult)

	// History is retained for audit.
	history, err := env.server.queue.ListByClient("C1")
	require.NoError(t, err)
	require.Len(t, history, 1)
}
