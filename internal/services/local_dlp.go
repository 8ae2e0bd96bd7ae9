package services

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"

	"cloud.google.com/go/dlp/apiv2/dlppb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/crypto/hkdf"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	syntheticIVSize = 16
	hkdfInfo        = "cloudhandlers deterministic surrogate v1"
)

var (
	tokenEncoding   = base32.StdEncoding.WithPadding(base32.NoPadding)
	surrogateFramed = regexp.MustCompile(`^([A-Za-z0-9_]+)\((\d+)\):(.*)$`)
)

// LocalDLPClient is an in-process stand-in for the DLP deterministic
// encryption transformation. Tokens are SIV-style: an HMAC-SHA256 synthetic IV
// over the plaintext followed by AES-CTR ciphertext, base32 encoded, so equal
// plaintext under an equal key always yields the equal token.
type LocalDLPClient struct{}

func NewLocalDLPClient() *LocalDLPClient {
	return &LocalDLPClient{}
}

func (c *LocalDLPClient) DeidentifyContent(ctx context.Context, req *dlppb.DeidentifyContentRequest, _ ...gax.CallOption) (*dlppb.DeidentifyContentResponse, error) {
	cfg, err := cryptoDeterministicConfig(req.GetDeidentifyConfig())
	if err != nil {
		return nil, err
	}
	keys, err := deriveSurrogateKeys(cfg.GetCryptoKey())
	if err != nil {
		return nil, err
	}

	value := req.GetItem().GetValue()
	token, err := keys.seal([]byte(value))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}

	name := cfg.GetSurrogateInfoType().GetName()
	return &dlppb.DeidentifyContentResponse{
		Item:     contentItem(fmt.Sprintf("%s(%d):%s", name, len(token), token)),
		Overview: summaryOverview(name, int64(len(value)), nil),
	}, nil
}

func (c *LocalDLPClient) ReidentifyContent(ctx context.Context, req *dlppb.ReidentifyContentRequest, _ ...gax.CallOption) (*dlppb.ReidentifyContentResponse, error) {
	cfg, err := cryptoDeterministicConfig(req.GetReidentifyConfig())
	if err != nil {
		return nil, err
	}
	keys, err := deriveSurrogateKeys(cfg.GetCryptoKey())
	if err != nil {
		return nil, err
	}

	value := req.GetItem().GetValue()
	name := cfg.GetSurrogateInfoType().GetName()

	plaintext, err := reverseSurrogate(keys, name, value)
	if err != nil {
		// DLP reports per-finding failures in the overview, not as an RPC error.
		return &dlppb.ReidentifyContentResponse{
			Item:     contentItem(value),
			Overview: summaryOverview(name, 0, err),
		}, nil
	}

	return &dlppb.ReidentifyContentResponse{
		Item:     contentItem(string(plaintext)),
		Overview: summaryOverview(name, int64(len(value)), nil),
	}, nil
}

func (c *LocalDLPClient) Close() error { return nil }

func reverseSurrogate(keys *surrogateKeys, name, value string) ([]byte, error) {
	m := surrogateFramed.FindStringSubmatch(value)
	if m == nil || m[1] != name {
		return nil, fmt.Errorf("value is not a %s surrogate", name)
	}
	n, err := strconv.Atoi(m[2])
	if err != nil || n != len(m[3]) {
		return nil, errors.New("surrogate length does not match its framing")
	}
	return keys.open(m[3])
}

func cryptoDeterministicConfig(dc *dlppb.DeidentifyConfig) (*dlppb.CryptoDeterministicConfig, error) {
	for _, t := range dc.GetInfoTypeTransformations().GetTransformations() {
		if cfg := t.GetPrimitiveTransformation().GetCryptoDeterministicConfig(); cfg != nil {
			if cfg.GetSurrogateInfoType().GetName() == "" {
				return nil, status.Error(codes.InvalidArgument, "surrogate info type is required")
			}
			return cfg, nil
		}
	}
	return nil, status.Error(codes.InvalidArgument, "request has no crypto deterministic transformation")
}

func summaryOverview(name string, transformed int64, failure error) *dlppb.TransformationOverview {
	result := &dlppb.TransformationSummary_SummaryResult{Count: 1, Code: dlppb.TransformationSummary_SUCCESS}
	if failure != nil {
		result.Code = dlppb.TransformationSummary_ERROR
		result.Details = failure.Error()
	}
	return &dlppb.TransformationOverview{
		TransformedBytes: transformed,
		TransformationSummaries: []*dlppb.TransformationSummary{{
			InfoType: &dlppb.InfoType{Name: name},
			Results:  []*dlppb.TransformationSummary_SummaryResult{result},
		}},
	}
}

type surrogateKeys struct {
	mac []byte
	enc []byte
}

// deriveSurrogateKeys splits the configured key into MAC and cipher keys with HKDF.
func deriveSurrogateKeys(key *dlppb.CryptoKey) (*surrogateKeys, error) {
	if key.GetKmsWrapped() != nil {
		return nil, status.Error(codes.FailedPrecondition, "kms-wrapped keys require the cloud DLP provider")
	}
	raw := key.GetUnwrapped().GetKey()
	switch len(raw) {
	case 16, 24, 32:
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unwrapped key must be 16, 24 or 32 bytes, got %d", len(raw))
	}

	material := make([]byte, 64)
	if _, err := io.ReadFull(hkdf.New(sha256.New, raw, nil, []byte(hkdfInfo)), material); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to derive keys: %v", err)
	}
	return &surrogateKeys{mac: material[:32], enc: material[32:]}, nil
}

func (k *surrogateKeys) syntheticIV(plaintext []byte) []byte {
	m := hmac.New(sha256.New, k.mac)
	m.Write(plaintext)
	return m.Sum(nil)[:syntheticIVSize]
}

func (k *surrogateKeys) xor(iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(k.enc)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}

func (k *surrogateKeys) seal(plaintext []byte) (string, error) {
	iv := k.syntheticIV(plaintext)
	ct, err := k.xor(iv, plaintext)
	if err != nil {
		return "", err
	}
	return tokenEncoding.EncodeToString(append(iv, ct...)), nil
}

func (k *surrogateKeys) open(token string) ([]byte, error) {
	raw, err := tokenEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("surrogate is not valid base32: %w", err)
	}
	if len(raw) < syntheticIVSize {
		return nil, errors.New("surrogate too short")
	}
	iv, ct := raw[:syntheticIVSize], raw[syntheticIVSize:]
	plaintext, err := k.xor(iv, ct)
	if err != nil {
		return nil, err
	}
	if !hmac.Equal(iv, k.syntheticIV(plaintext)) {
		return nil, errors.New("surrogate failed authentication")
	}
	return plaintext, nil
}
