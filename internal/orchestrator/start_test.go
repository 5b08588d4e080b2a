package orchestrator

import (
	"encoding/base64"
	"errors"
	"testing"

	"github.com/sebas/holepunch/internal/errs"
)

func memberCreatedFixture(deviceUID string) map[string]any {
	return map[string]any{
		"body": map[string]any{
			"data": map[string]any{
				"members": []any{
					map[string]any{"deviceUniqueId": deviceUID},
				},
			},
		},
	}
}

func TestMemberDeviceMatches(t *testing.T) {
	root := memberCreatedFixture("device-123")

	if !memberDeviceMatches(root, "device-123") {
		t.Error("expected match on identical device UID")
	}
	if memberDeviceMatches(root, "device-456") {
		t.Error("expected no match on different device UID")
	}
	if memberDeviceMatches(map[string]any{}, "device-123") {
		t.Error("expected no match when body/data/members is absent")
	}
}

func TestExtractCustomData1RejectsWrongLength(t *testing.T) {
	root := map[string]any{
		"body": map[string]any{
			"data": map[string]any{
				"customData1": "tooshort",
			},
		},
	}

	if _, err := extractCustomData1(root); err == nil {
		t.Fatal("expected error for customData1 length != 32")
	}
}

func TestExtractCustomData1RejectsMissingField(t *testing.T) {
	if _, err := extractCustomData1(map[string]any{}); err == nil {
		t.Fatal("expected error when body/data/customData1 is absent")
	}
}

// scenario6CustomData1 is a 32-char value that, per §8 scenario 6, decodes
// through two layers of base64 to exactly 16 bytes.
func scenario6CustomData1() (string, [16]byte) {
	var secret [16]byte
	for i := range secret {
		secret[i] = byte(i + 1)
	}
	inner := base64.StdEncoding.EncodeToString(secret[:])
	outer := base64.StdEncoding.EncodeToString([]byte(inner))
	return outer, secret
}

func TestDecodeDoubleBase64RoundTrips(t *testing.T) {
	outer, want := scenario6CustomData1()

	got, err := decodeDoubleBase64(outer)
	if err != nil {
		t.Fatalf("decodeDoubleBase64: %v", err)
	}
	if got != want {
		t.Errorf("decodeDoubleBase64(%q) = %x, want %x", outer, got, want)
	}
}

func TestDecodeDoubleBase64RejectsMalformedOuter(t *testing.T) {
	if _, err := decodeDoubleBase64("not-valid-base64!!"); err == nil {
		t.Fatal("expected error for malformed outer base64")
	}
}

func TestDecodeDoubleBase64RejectsMalformedInner(t *testing.T) {
	outer := base64.StdEncoding.EncodeToString([]byte("not-valid-base64!!"))

	if _, err := decodeDoubleBase64(outer); err == nil {
		t.Fatal("expected error for malformed inner base64")
	}
}

func TestDecodeDoubleBase64RejectsWrongByteLength(t *testing.T) {
	inner := base64.StdEncoding.EncodeToString([]byte("too-short"))
	outer := base64.StdEncoding.EncodeToString([]byte(inner))

	_, err := decodeDoubleBase64(outer)
	if err == nil {
		t.Fatal("expected error when decoded inner payload isn't 16 bytes")
	}
	if !errors.Is(err, errs.ErrUnknown) {
		t.Errorf("error = %v, want wrapping errs.ErrUnknown", err)
	}
}
