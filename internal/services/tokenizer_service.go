package services

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/dlp/apiv2/dlppb"
	"go.uber.org/zap"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
	"github.com/PlainFunction/cloudhandlers/internal/common/logging"
	"github.com/PlainFunction/cloudhandlers/internal/common/models"
	"github.com/PlainFunction/cloudhandlers/internal/common/types"
)

const (
	OperationTokenize   = "tokenize"
	OperationDetokenize = "detokenize"
	OperationReap       = "reap"

	StatusSuccess = "success"
	StatusError   = "error"
)

// ownerMismatchReason is returned when the recovered user id differs from the caller's.
const ownerMismatchReason = "Could not validate detokenized content"

// TokenizerService turns card records into deterministic DLP surrogates and back.
type TokenizerService struct {
	config    *config.Config
	dlp       DLPClient
	cryptoKey *dlppb.CryptoKey
	audit     types.AuditLogger
	version   *logging.VersionLogger
	logger    *zap.Logger
}

// NewTokenizerService wires a tokenizer. audit may be nil.
func NewTokenizerService(cfg *config.Config, client DLPClient, key *dlppb.CryptoKey, audit types.AuditLogger, logger *zap.Logger) *TokenizerService {
	if audit == nil {
		audit = NopAuditLogger{}
	}
	return &TokenizerService{
		config:    cfg,
		dlp:       client,
		cryptoKey: key,
		audit:     audit,
		version:   logging.NewVersionLogger(logger, cfg),
		logger:    logger.Named("tokenizer"),
	}
}

// Tokenize returns the bare deterministic token for the request's card record.
func (s *TokenizerService) Tokenize(ctx context.Context, req models.TokenizeRequest) (string, error) {
	s.version.Log(OperationTokenize)

	project, err := validateTokenize(req, s.config.ProjectID)
	if err != nil {
		s.logger.Debug("tokenize request rejected", zap.Error(err))
		return "", err
	}

	plaintext := EncodePlaintext(CardRecord{CC: req.CC, MM: req.MM, YYYY: req.YYYY, UserID: req.UserID})
	resp, err := s.dlp.DeidentifyContent(ctx, buildDeidentifyRequest(project, plaintext, s.cryptoKey))
	if err != nil {
		s.logger.Error("deidentify failed", logging.Project(project), zap.Error(err))
		s.record(ctx, OperationTokenize, req.UserID, err)
		return "", &types.ProviderError{Op: "deidentify", Err: err}
	}
	s.logger.Debug("deidentify response",
		zap.Int64("transformed_bytes", resp.GetOverview().GetTransformedBytes()))

	if transformationFailed(resp.GetOverview()) {
		terr := &TransformationError{Response: resp}
		s.record(ctx, OperationTokenize, req.UserID, terr)
		return "", terr
	}

	token := UnframeToken(resp.GetItem().GetValue())
	if token == "" {
		err := &types.ProviderError{Op: "deidentify", Err: errors.New("provider returned an empty token")}
		s.record(ctx, OperationTokenize, req.UserID, err)
		return "", err
	}

	s.record(ctx, OperationTokenize, req.UserID, nil)
	return token, nil
}

// Detokenize recovers the card record bound to req.Token and checks it belongs
// to req.UserID.
func (s *TokenizerService) Detokenize(ctx context.Context, req models.DetokenizeRequest) (*models.DetokenizeResponse, error) {
	s.version.Log(OperationDetokenize)

	project, err := validateDetokenize(req, s.config.ProjectID)
	if err != nil {
		s.logger.Debug("detokenize request rejected", zap.Error(err))
		return nil, err
	}

	resp, err := s.dlp.ReidentifyContent(ctx, buildReidentifyRequest(project, FrameToken(req.Token), s.cryptoKey))
	if err != nil {
		s.logger.Error("reidentify failed", logging.Project(project), zap.Error(err))
		s.record(ctx, OperationDetokenize, req.UserID, err)
		return nil, &types.ProviderError{Op: "reidentify", Err: err}
	}

	if transformationFailed(resp.GetOverview()) {
		terr := &TransformationError{Response: resp}
		s.record(ctx, OperationDetokenize, req.UserID, terr)
		return nil, terr
	}

	record, err := DecodePlaintext(resp.GetItem().GetValue())
	if err != nil {
		s.record(ctx, OperationDetokenize, req.UserID, err)
		return nil, err
	}
	if record.UserID != req.UserID {
		s.logger.Warn("detokenize owner mismatch", logging.UserID(req.UserID))
		derr := &types.DecodeError{Reason: ownerMismatchReason, Err: types.ErrOwnerMismatch}
		s.record(ctx, OperationDetokenize, req.UserID, derr)
		return nil, derr
	}

	s.record(ctx, OperationDetokenize, req.UserID, nil)
	return &models.DetokenizeResponse{CC: record.CC, MM: record.MM, YYYY: record.YYYY}, nil
}

// Close releases the provider connection.
func (s *TokenizerService) Close() error {
	return s.dlp.Close()
}

func (s *TokenizerService) record(ctx context.Context, op, subject string, opErr error) {
	entry := types.AuditEntry{
		Operation: op,
		Subject:   subject,
		Status:    StatusSuccess,
		ClientIP:  ClientIPFromContext(ctx),
		Timestamp: time.Now().UTC(),
	}
	if opErr != nil {
		entry.Status = StatusError
		entry.Detail = RedactError(opErr)
	}
	if err := s.audit.LogAccess(ctx, entry); err != nil {
		s.logger.Warn("failed to write audit entry", zap.String("operation", op), zap.Error(err))
	}
}

// RedactError renders err for logs and the audit table. Transformation
// failures carry the provider response, which may echo the plaintext record,
// so only their kind is kept.
func RedactError(err error) string {
	var terr *TransformationError
	if errors.As(err, &terr) {
		return "transformation failed"
	}
	return err.Error()
}
