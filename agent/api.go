package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/campuskit/remotehub/pkg/protocol"
)

// apiClient wraps the server's protocol endpoints. Transient transport
// failures are retried with backoff; protocol refusals are returned as-is.
type apiClient struct {
	base  string
	http  *http.Client
	retry *retrier
}

func newAPIClient(baseURL string, timeout time.Duration, retry *retrier) *apiClient {
	return &apiClient{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: timeout},
		retry: retry,
	}
}

func (a *apiClient) register(clientID, password string) (*protocol.Response, error) {
	return a.post("/v1/clients/register", protocol.RegisterRequest{
		ClientID: clientID,
		Password: password,
	})
}

func (a *apiClient) poll(clientID string) (*protocol.Response, error) {
	return a.call(http.MethodGet, "/v1/clients/"+clientID+"/poll", nil)
}

func (a *apiClient) reportFailure(clientID string, commandID uint, result string) (*protocol.Response, error) {
	return a.post("/v1/clients/report-failure", protocol.ReportFailureRequest{
		ClientID:       clientID,
		CommandID:      commandID,
		ReportedResult: result,
	})
}

func (a *apiClient) submitCredential(clientID string, commandID uint, newCredential string) (*protocol.Response, error) {
	return a.post("/v1/clients/submit-credential", protocol.SubmitCredentialRequest{
		ClientID:      clientID,
		CommandID:     commandID,
		NewCredential: newCredential,
	})
}

func (a *apiClient) post(path string, payload any) (*protocol.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return a.call(http.MethodPost, path, body)
}

func (a *apiClient) call(method, path string, body []byte) (*protocol.Response, error) {
	var envelope protocol.Response
	err := a.retry.do(func() error {
		var reader *bytes.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		} else {
			reader = bytes.NewReader(nil)
		}
		req, err := http.NewRequest(method, a.base+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if transientStatus(resp.StatusCode) {
			return transientStatusError{status: resp.StatusCode}
		}

		envelope = protocol.Response{}
		if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
			return fmt.Errorf("decoding response: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &envelope, nil
}
