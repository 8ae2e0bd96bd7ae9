package services

import (
	"encoding/base64"
	"errors"
	"fmt"

	"cloud.google.com/go/dlp/apiv2/dlppb"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
)

// ErrNoCryptoKey is returned when neither key form is configured.
var ErrNoCryptoKey = errors.New("no DLP key configured: set DLP_WRAPPED_KEY and DLP_WRAPPED_KEY_RESOURCE_ID, or DLP_UNWRAPPED_KEY")

// BuildCryptoKey selects the deterministic-encryption key once at startup.
// A KMS-wrapped key wins when both of its fields are set. Both key forms are
// base64 in the environment.
func BuildCryptoKey(k config.DLPKeyConfig, logger *zap.Logger) (*dlppb.CryptoKey, error) {
	if k.HasWrapped() {
		wrapped, err := base64.StdEncoding.DecodeString(k.WrappedKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode DLP_WRAPPED_KEY: %w", err)
		}
		logger.Debug("using key wrapped by", zap.String("crypto_key_name", k.WrappedKeyResourceID))
		return &dlppb.CryptoKey{
			Source: &dlppb.CryptoKey_KmsWrapped{
				KmsWrapped: &dlppb.KmsWrappedCryptoKey{
					WrappedKey:    wrapped,
					CryptoKeyName: k.WrappedKeyResourceID,
				},
			},
		}, nil
	}

	if k.UnwrappedKey == "" {
		return nil, ErrNoCryptoKey
	}
	raw, err := base64.StdEncoding.DecodeString(k.UnwrappedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode DLP_UNWRAPPED_KEY: %w", err)
	}
	logger.Debug("using unwrapped key", zap.Int("bytes", len(raw)))
	return &dlppb.CryptoKey{
		Source: &dlppb.CryptoKey_Unwrapped{
			Unwrapped: &dlppb.UnwrappedCryptoKey{Key: raw},
		},
	}, nil
}
