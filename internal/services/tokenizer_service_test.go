package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"cloud.google.com/go/dlp/apiv2/dlppb"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
	"github.com/PlainFunction/cloudhandlers/internal/common/models"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
)

func newLocalTokenizer(t *testing.T, audit types.AuditLogger) *TokenizerService {
	t.Helper()
	cfg := &config.Config{ProjectID: "proj", DLPProvider: config.ProviderLocal}
	return NewTokenizerService(cfg, NewLocalDLPClient(), unwrappedKey(testKey), audit, zap.NewNop())
}

func tokenizeReq(cc, mm, yyyy, user string) models.TokenizeRequest {
	return models.TokenizeRequest{CC: cc, MM: mm, YYYY: yyyy, UserID: user}
}

func TestTokenize_deterministic(t *testing.T) {
	svc := newLocalTokenizer(t, nil)
	ctx := context.Background()

	first, err := svc.Tokenize(ctx, tokenizeReq("4111111111111111", "05", "2027", "user42"))
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	second, err := svc.Tokenize(ctx, tokenizeReq("4111111111111111", "05", "2027", "user42"))
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	if first != second {
		t.Errorf("tokens differ for identical input: %q vs %q", first, second)
	}
	if strings.Contains(first, ":") || strings.Contains(first, SurrogateType) {
		t.Errorf("token %q still carries surrogate framing", first)
	}

	variants := []models.TokenizeRequest{
		tokenizeReq("4111111111111112", "05", "2027", "user42"),
		tokenizeReq("4111111111111111", "06", "2027", "user42"),
		tokenizeReq("4111111111111111", "05", "2028", "user42"),
		tokenizeReq("4111111111111111", "05", "2027", "user43"),
	}
	seen := map[string]bool{first: true}
	for _, v := range variants {
		tok, err := svc.Tokenize(ctx, v)
		if err != nil {
			t.Fatalf("Tokenize(%+v) failed: %v", v, err)
		}
		if seen[tok] {
			t.Errorf("Tokenize(%+v) collided with an earlier token", v)
		}
		seen[tok] = true
	}
}

func TestTokenize_roundTrip(t *testing.T) {
	audit := &recordingAudit{}
	svc := newLocalTokenizer(t, audit)
	ctx := WithClientIP(context.Background(), "10.0.0.7")

	token, err := svc.Tokenize(ctx, tokenizeReq("4111111111111111", "05", "2027", "user42"))
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	got, err := svc.Detokenize(ctx, models.DetokenizeRequest{Token: token, UserID: "user42"})
	if err != nil {
		t.Fatalf("Detokenize failed: %v", err)
	}
	want := &models.DetokenizeResponse{CC: "4111111111111111", MM: "05", YYYY: "2027"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("detokenized mismatch (-want +got):\n%s", diff)
	}

	entries := audit.all()
	if len(entries) != 2 {
		t.Fatalf("audit entries = %d, want 2", len(entries))
	}
	for _, e := range entries {
		if e.Status != StatusSuccess || e.Subject != "user42" || e.ClientIP != "10.0.0.7" {
			t.Errorf("audit entry = %+v", e)
		}
		if strings.Contains(e.Detail, "4111") {
			t.Errorf("audit entry leaks card data: %+v", e)
		}
	}
}

func TestDetokenize_mismatchedUser(t *testing.T) {
	svc := newLocalTokenizer(t, nil)
	ctx := context.Background()

	token, err := svc.Tokenize(ctx, tokenizeReq("4111111111111111", "05", "2027", "userA"))
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	got, err := svc.Detokenize(ctx, models.DetokenizeRequest{Token: token, UserID: "userB"})
	if got != nil {
		t.Errorf("Detokenize returned data for the wrong user: %+v", got)
	}
	if !errors.Is(err, types.ErrOwnerMismatch) {
		t.Fatalf("err = %v, want ErrOwnerMismatch", err)
	}
	if err.Error() != "Could not validate detokenized content" {
		t.Errorf("err = %q", err)
	}
}

func TestDetokenize_invalidTokenIsTransformationError(t *testing.T) {
	svc := newLocalTokenizer(t, nil)

	_, err := svc.Detokenize(context.Background(), models.DetokenizeRequest{Token: "AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA", UserID: "user42"})
	var terr *TransformationError
	if !errors.As(err, &terr) {
		t.Fatalf("err = %v, want TransformationError", err)
	}
	if !strings.Contains(terr.Error(), "ERROR") {
		t.Errorf("raw response %q should carry the ERROR status", terr.Error())
	}
}

func TestDetokenize_shortTokenIsValidationError(t *testing.T) {
	svc := newLocalTokenizer(t, nil)

	_, err := svc.Detokenize(context.Background(), models.DetokenizeRequest{Token: "short", UserID: "user42"})
	var verr *types.ValidationError
	if !errors.As(err, &verr) || verr.Message != "Invalid input for token" {
		t.Fatalf("err = %v, want token ValidationError", err)
	}
}

func TestTokenize_providerError(t *testing.T) {
	cfg := &config.Config{ProjectID: "proj"}
	audit := &recordingAudit{}
	svc := NewTokenizerService(cfg, failingDLP{err: status.Error(codes.PermissionDenied, "dlp.content.deidentify denied")}, unwrappedKey(testKey), audit, zap.NewNop())

	_, err := svc.Tokenize(context.Background(), tokenizeReq("4111111111111111", "05", "2027", "user42"))
	var perr *types.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
	if perr.Code() != codes.PermissionDenied {
		t.Errorf("code = %v", perr.Code())
	}
	if entries := audit.all(); len(entries) != 1 || entries[0].Status != StatusError {
		t.Errorf("audit entries = %+v", entries)
	}

	_, err = svc.Detokenize(context.Background(), models.DetokenizeRequest{Token: "ABCDEFGHIJKL", UserID: "user42"})
	if !errors.As(err, &perr) || perr.Op != "reidentify" {
		t.Fatalf("err = %v, want reidentify ProviderError", err)
	}
}

func TestTokenize_validationMakesNoProviderCall(t *testing.T) {
	dlp := &scriptedDLP{}
	svc := NewTokenizerService(&config.Config{ProjectID: "proj"}, dlp, unwrappedKey(testKey), nil, zap.NewNop())

	_, err := svc.Tokenize(context.Background(), tokenizeReq("4111", "05", "2027", "user42"))
	if !types.IsValidation(err) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if dlp.lastDeid != nil {
		t.Error("provider was called for an invalid request")
	}
}

func TestTokenize_requestShape(t *testing.T) {
	dlp := &scriptedDLP{deidentify: &dlppb.DeidentifyContentResponse{Item: contentItem("TOKEN(12):ABCDEFGHIJKL")}}
	svc := NewTokenizerService(&config.Config{ProjectID: "default"}, dlp, unwrappedKey(testKey), nil, zap.NewNop())

	req := tokenizeReq("41111111111111", "5", "2030", "abcd")
	req.ProjectID = "override"
	token, err := svc.Tokenize(context.Background(), req)
	if err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	if token != "ABCDEFGHIJKL" {
		t.Errorf("token = %q", token)
	}
	if dlp.lastDeid.GetParent() != "projects/override" {
		t.Errorf("parent = %q", dlp.lastDeid.GetParent())
	}
	if got := dlp.lastDeid.GetItem().GetValue(); got != "c41111111111111m5y2030uabcd" {
		t.Errorf("plaintext = %q", got)
	}
	custom := dlp.lastDeid.GetInspectConfig().GetCustomInfoTypes()
	if len(custom) != 1 || custom[0].GetInfoType().GetName() != SurrogateType {
		t.Errorf("custom info types = %v", custom)
	}
}

func TestTokenize_emptyTokenIsProviderError(t *testing.T) {
	dlp := &scriptedDLP{deidentify: &dlppb.DeidentifyContentResponse{Item: contentItem("TOKEN(0):")}}
	svc := NewTokenizerService(&config.Config{ProjectID: "p"}, dlp, unwrappedKey(testKey), nil, zap.NewNop())

	_, err := svc.Tokenize(context.Background(), tokenizeReq("4111111111111111", "05", "2027", "user42"))
	var perr *types.ProviderError
	if !errors.As(err, &perr) {
		t.Fatalf("err = %v, want ProviderError", err)
	}
}

func TestDetokenize_malformedPlaintext(t *testing.T) {
	dlp := &scriptedDLP{reidentify: &dlppb.ReidentifyContentResponse{Item: contentItem("garbage")}}
	svc := NewTokenizerService(&config.Config{ProjectID: "p"}, dlp, unwrappedKey(testKey), nil, zap.NewNop())

	_, err := svc.Detokenize(context.Background(), models.DetokenizeRequest{Token: "ABCDEFGHIJKL", UserID: "user42"})
	if !errors.Is(err, types.ErrMalformedPlaintext) {
		t.Fatalf("err = %v, want ErrMalformedPlaintext", err)
	}
	if got := dlp.lastReid.GetItem().GetValue(); got != "TOKEN(12):ABCDEFGHIJKL" {
		t.Errorf("reidentify value = %q", got)
	}
}

func TestTokenize_versionLogging(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	cfg := &config.Config{ProjectID: "proj", VersionLogging: true, Environment: "test"}
	svc := NewTokenizerService(cfg, NewLocalDLPClient(), unwrappedKey(testKey), nil, zap.New(core))

	if _, err := svc.Tokenize(context.Background(), tokenizeReq("4111111111111111", "05", "2027", "user42")); err != nil {
		t.Fatalf("Tokenize failed: %v", err)
	}
	if logs.FilterMessage(OperationTokenize).Len() != 1 {
		t.Errorf("expected one version line, got %v", logs.All())
	}
	for _, entry := range logs.All() {
		for _, f := range entry.Context {
			if strings.Contains(f.String, "4111111111111111") {
				t.Errorf("log line leaks card number: %+v", entry)
			}
		}
	}
}
