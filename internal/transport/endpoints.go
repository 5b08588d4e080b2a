package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sebas/holepunch/internal/errs"
)

// HTTPClient wraps the shared connection pool with the fixed set of
// signalling operations of §4.2/§6. Every method is safe to call
// concurrently — the push channel's auto-ACK path and the orchestrator's
// phase-driving goroutine both issue requests through the same instance.
type HTTPClient struct {
	client      *http.Client
	bearerToken string

	mobilePushHost string
	webHost        string
}

// NewHTTPClient builds an HTTPClient against the given hosts, authenticated
// with bearer.
func NewHTTPClient(pool *http.Client, bearer, mobilePushHost, webHost string) *HTTPClient {
	return &HTTPClient{
		client:         pool,
		bearerToken:    bearer,
		mobilePushHost: mobilePushHost,
		webHost:        webHost,
	}
}

func (c *HTTPClient) do(req *http.Request) ([]byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.bearerToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", errs.ErrNetwork, req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: read body: %v", errs.ErrNetwork, req.Method, req.URL, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &errs.HTTPError{URL: req.URL.String(), Status: resp.StatusCode, Body: string(body)}
	}

	return body, nil
}

// ResolveNotificationFQDN is the Phase 1 server-address lookup (§6): GET
// /np/serveraddr on the mobile-push host, returning the FQDN the push
// channel should dial.
func (c *HTTPClient) ResolveNotificationFQDN(ctx context.Context) (string, error) {
	url := fmt.Sprintf("https://%s/np/serveraddr?version=2.1&fields=keepAliveStatus&keepAliveStatusType=3", c.mobilePushHost)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: build serveraddr request: %v", errs.ErrNetwork, err)
	}

	body, err := c.do(req)
	if err != nil {
		return "", err
	}

	var out struct {
		FQDN string `json:"fqdn"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &errs.ProtocolError{Context: "serveraddr response", Payload: string(body), Cause: err}
	}
	if out.FQDN == "" {
		return "", &errs.ProtocolError{Context: "serveraddr response", Payload: string(body)}
	}
	return out.FQDN, nil
}

// CreateSessionResult is the parsed response of CreateSession.
type CreateSessionResult struct {
	SessionID string
	AccountID string
}

// CreateSession POSTs the push-context UUID to the session-manager API and
// returns the server-assigned session id and account id (§4.2, §6).
func (c *HTTPClient) CreateSession(ctx context.Context, pushContextID string) (*CreateSessionResult, error) {
	url := fmt.Sprintf("https://%s/api/sessionManager/v1/remotePlaySessions", c.webHost)

	payload, _ := json.Marshal(map[string]string{
		"pushContextId": pushContextID,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: build create_session request: %v", errs.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var out struct {
		SessionID string `json:"sessionId"`
		AccountID string `json:"accountId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &errs.ProtocolError{Context: "create_session response", Payload: string(body), Cause: err}
	}
	if len(out.SessionID) != 36 {
		return nil, &errs.ProtocolError{Context: "create_session response: sessionId not a UUID", Payload: string(body)}
	}

	return &CreateSessionResult{SessionID: out.SessionID, AccountID: out.AccountID}, nil
}

// StartSessionInput carries the fields start_session embeds in its
// JSON-in-string command payload (§4.2).
type StartSessionInput struct {
	DeviceUID  string
	ConsoleGen string
	AccountID  string
	SessionID  string
	Data1      [16]byte
	Data2      [16]byte
}

// StartSession POSTs the start-session command envelope to the
// cloud-assisted-navigation commands endpoint (§4.2, §6).
func (c *HTTPClient) StartSession(ctx context.Context, in StartSessionInput) error {
	innerPayload, _ := json.Marshal(map[string]string{
		"accountId": in.AccountID,
		"sessionId": in.SessionID,
		"data1":     base64.StdEncoding.EncodeToString(in.Data1[:]),
		"data2":     base64.StdEncoding.EncodeToString(in.Data2[:]),
	})

	envelope, _ := json.Marshal(map[string]string{
		"deviceUniqueId": in.DeviceUID,
		"consoleGen":     in.ConsoleGen,
		"commandData":    string(innerPayload),
	})

	url := fmt.Sprintf("https://%s/api/cloudAssistedNavigation/v2/users/me/commands", c.webHost)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return fmt.Errorf("%w: build start_session request: %v", errs.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)
	return err
}

// SendSessionMessage POSTs a session-message envelope of the shape
// documented in §6 — the `payload` field has already been produced by
// internal/sessionmsg.Encode and must be sent verbatim, malformations
// included.
func (c *HTTPClient) SendSessionMessage(ctx context.Context, sessionID string, toAccountID, toDeviceUID, toPlatform, payload string) error {
	url := fmt.Sprintf("https://%s/api/sessionManager/v1/remotePlaySessions/%s/sessionMessage", c.webHost, sessionID)

	var buf bytes.Buffer
	buf.WriteString(`{"channel":"remote_play:1","payload":`)
	encoded, _ := json.Marshal(payload)
	buf.Write(encoded)
	buf.WriteString(`,"to":[{"accountId":"`)
	buf.WriteString(toAccountID)
	buf.WriteString(`","deviceUniqueId":"`)
	buf.WriteString(toDeviceUID)
	buf.WriteString(`","platform":"`)
	buf.WriteString(toPlatform)
	buf.WriteString(`"}]}`)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return fmt.Errorf("%w: build send_session_message request: %v", errs.ErrNetwork, err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.do(req)
	return err
}
