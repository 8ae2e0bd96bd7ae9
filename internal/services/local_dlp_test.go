package services

import (
	"context"
	"strings"
	"testing"

	"cloud.google.com/go/dlp/apiv2/dlppb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func unwrappedKey(k string) *dlppb.CryptoKey {
	return &dlppb.CryptoKey{Source: &dlppb.CryptoKey_Unwrapped{Unwrapped: &dlppb.UnwrappedCryptoKey{Key: []byte(k)}}}
}

const testKey = "0123456789abcdef0123456789abcdef"

func TestLocalDLP_deidentifyFramesToken(t *testing.T) {
	client := NewLocalDLPClient()
	resp, err := client.DeidentifyContent(context.Background(), buildDeidentifyRequest("p", "c4111111111111111m05y2027uuser42", unwrappedKey(testKey)))
	if err != nil {
		t.Fatalf("DeidentifyContent failed: %v", err)
	}
	value := resp.GetItem().GetValue()
	if !strings.HasPrefix(value, SurrogateType+"(") {
		t.Fatalf("value %q is not surrogate framed", value)
	}
	token := UnframeToken(value)
	if FrameToken(token) != value {
		t.Errorf("FrameToken(UnframeToken(v)) = %q, want %q", FrameToken(token), value)
	}
	if transformationFailed(resp.GetOverview()) {
		t.Error("overview reports failure")
	}
}

func TestLocalDLP_reidentifyRejectsTampering(t *testing.T) {
	client := NewLocalDLPClient()
	key := unwrappedKey(testKey)
	resp, err := client.DeidentifyContent(context.Background(), buildDeidentifyRequest("p", "secret", key))
	if err != nil {
		t.Fatalf("DeidentifyContent failed: %v", err)
	}
	token := UnframeToken(resp.GetItem().GetValue())
	tampered := []byte(token)
	if tampered[0] == 'A' {
		tampered[0] = 'B'
	} else {
		tampered[0] = 'A'
	}

	tests := []struct {
		name  string
		value string
		key   *dlppb.CryptoKey
	}{
		{"tampered token", FrameToken(string(tampered)), key},
		{"wrong key", FrameToken(token), unwrappedKey("fedcba9876543210")},
		{"not framed", token, key},
		{"wrong length", SurrogateType + "(3):" + token, key},
		{"not base32", FrameToken("!!!!!!!!!!!!"), key},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := client.ReidentifyContent(context.Background(), buildReidentifyRequest("p", tt.value, tt.key))
			if err != nil {
				t.Fatalf("ReidentifyContent returned rpc error: %v", err)
			}
			if !transformationFailed(out.GetOverview()) {
				t.Errorf("expected ERROR overview, got value %q", out.GetItem().GetValue())
			}
		})
	}
}

func TestLocalDLP_keyErrors(t *testing.T) {
	client := NewLocalDLPClient()

	_, err := client.DeidentifyContent(context.Background(), buildDeidentifyRequest("p", "x", unwrappedKey("short")))
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("short key code = %v, want InvalidArgument", status.Code(err))
	}

	wrapped := &dlppb.CryptoKey{Source: &dlppb.CryptoKey_KmsWrapped{KmsWrapped: &dlppb.KmsWrappedCryptoKey{WrappedKey: []byte("x"), CryptoKeyName: "k"}}}
	_, err = client.DeidentifyContent(context.Background(), buildDeidentifyRequest("p", "x", wrapped))
	if status.Code(err) != codes.FailedPrecondition {
		t.Errorf("wrapped key code = %v, want FailedPrecondition", status.Code(err))
	}

	_, err = client.DeidentifyContent(context.Background(), &dlppb.DeidentifyContentRequest{Item: contentItem("x")})
	if status.Code(err) != codes.InvalidArgument {
		t.Errorf("missing config code = %v, want InvalidArgument", status.Code(err))
	}
}
