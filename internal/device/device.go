// Package device implements the one external-collaborator output named in
// §6 that is not itself part of session negotiation: listing the caller's
// registered consoles, and generating the client-side device UID the
// orchestrator presents during Start.
package device

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/sebas/holepunch/internal/errs"
)

// Kind selects which console platform to list (§1 Non-goals: gen-4/gen-5
// only, so Kind is constrained to the two platform tags §6 names).
type Kind string

const (
	KindPS4 Kind = "PS4"
	KindPS5 Kind = "PS5"
)

// Info is one entry of the device list response.
type Info struct {
	DeviceUniqueID string `json:"deviceUniqueId"`
	Name           string `json:"name"`
	Platform       string `json:"platform"`
}

// ListDevices performs the authenticated GET named in §6 as out of core
// scope for negotiation but named as a core output.
func ListDevices(ctx context.Context, client *http.Client, webHost, bearerToken string, kind Kind) ([]Info, error) {
	url := fmt.Sprintf(
		"https://%s/api/cloudAssistedNavigation/v2/users/me/clients?platform=%s&includeFields=device&limit=10&offset=0",
		webHost, kind,
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build list_devices request: %v", errs.ErrNetwork, err)
	}
	req.Header.Set("Authorization", "Bearer "+bearerToken)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: list_devices: %v", errs.ErrNetwork, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: list_devices: read body: %v", errs.ErrNetwork, err)
	}
	if resp.StatusCode >= 400 {
		return nil, &errs.HTTPError{URL: url, Status: resp.StatusCode, Body: string(body)}
	}

	var out struct {
		Devices []Info `json:"devices"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &errs.ProtocolError{Context: "list_devices response", Payload: string(body), Cause: err}
	}
	return out.Devices, nil
}

// clientDeviceUIDPrefix is the vendor-fixed prefix every client-generated
// device UID carries (§6).
const clientDeviceUIDPrefix = "ffffffff"

// GenerateClientDeviceUID hex-encodes buf (which must carry at least 12
// bytes of caller-supplied randomness) behind the fixed vendor prefix,
// producing the 32-byte hex string §6 names as the client device UID.
func GenerateClientDeviceUID(buf []byte) (string, error) {
	const randomBytes = 12 // 32 hex chars total - 8 prefix chars = 24 hex chars = 12 bytes
	if len(buf) < randomBytes {
		return "", errs.ErrBufTooSmall
	}
	return clientDeviceUIDPrefix + hex.EncodeToString(buf[:randomBytes]), nil
}
