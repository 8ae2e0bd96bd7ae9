package services

import (
	"context"
	"fmt"

	dlp "cloud.google.com/go/dlp/apiv2"
	"cloud.google.com/go/dlp/apiv2/dlppb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/PlainFunction/cloudhandlers/internal/common/config"
	grpcutil "github.com/PlainFunction/cloudhandlers/internal/common/grpc"
)

// DLPClient is the subset of the Cloud DLP API used for deterministic
// tokenization. *dlp.Client satisfies it, as does LocalDLPClient.
type DLPClient interface {
	DeidentifyContent(ctx context.Context, req *dlppb.DeidentifyContentRequest, opts ...gax.CallOption) (*dlppb.DeidentifyContentResponse, error)
	ReidentifyContent(ctx context.Context, req *dlppb.ReidentifyContentRequest, opts ...gax.CallOption) (*dlppb.ReidentifyContentResponse, error)
	Close() error
}

// NewDLPClient returns the provider selected by cfg.DLPProvider.
func NewDLPClient(ctx context.Context, cfg *config.Config, logger *zap.Logger) (DLPClient, error) {
	switch cfg.DLPProvider {
	case config.ProviderLocal:
		logger.Warn("using in-process deterministic DLP provider; not for production data")
		return NewLocalDLPClient(), nil
	case config.ProviderCloud, "":
		opts := []option.ClientOption{}
		if cfg.DLPEndpoint != "" {
			opts = append(opts, option.WithEndpoint(cfg.DLPEndpoint))
		}
		for _, d := range grpcutil.ClientDialOptions(logger.Named("dlp-grpc")) {
			opts = append(opts, option.WithGRPCDialOption(d))
		}
		client, err := dlp.NewClient(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create DLP client: %w", err)
		}
		return client, nil
	default:
		return nil, fmt.Errorf("unknown DLP provider %q", cfg.DLPProvider)
	}
}

// TransformationError carries a provider response whose transformation summary
// reported ERROR. The raw response is surfaced to the caller unchanged.
type TransformationError struct {
	Response proto.Message
}

func (e *TransformationError) Error() string {
	if e.Response == nil {
		return "DLP returned an empty response"
	}
	b, err := protojson.Marshal(e.Response)
	if err != nil {
		return fmt.Sprintf("DLP transformation failed: %v", err)
	}
	return string(b)
}

func projectParent(projectID string) string {
	return "projects/" + projectID
}

func surrogateInfoType() *dlppb.InfoType {
	return &dlppb.InfoType{Name: SurrogateType}
}

func contentItem(value string) *dlppb.ContentItem {
	return &dlppb.ContentItem{DataItem: &dlppb.ContentItem_Value{Value: value}}
}

// deterministicConfig applies CryptoDeterministicConfig with the TOKEN surrogate.
func deterministicConfig(key *dlppb.CryptoKey) *dlppb.DeidentifyConfig {
	return &dlppb.DeidentifyConfig{
		Transformation: &dlppb.DeidentifyConfig_InfoTypeTransformations{
			InfoTypeTransformations: &dlppb.InfoTypeTransformations{
				Transformations: []*dlppb.InfoTypeTransformations_InfoTypeTransformation{{
					InfoTypes: []*dlppb.InfoType{surrogateInfoType()},
					PrimitiveTransformation: &dlppb.PrimitiveTransformation{
						Transformation: &dlppb.PrimitiveTransformation_CryptoDeterministicConfig{
							CryptoDeterministicConfig: &dlppb.CryptoDeterministicConfig{
								CryptoKey:         key,
								SurrogateInfoType: surrogateInfoType(),
							},
						},
					},
				}},
			},
		},
	}
}

// buildDeidentifyRequest matches the whole plaintext as a TOKEN finding and
// replaces it with its deterministic surrogate.
func buildDeidentifyRequest(projectID, plaintext string, key *dlppb.CryptoKey) *dlppb.DeidentifyContentRequest {
	return &dlppb.DeidentifyContentRequest{
		Parent: projectParent(projectID),
		InspectConfig: &dlppb.InspectConfig{
			MinLikelihood: dlppb.Likelihood_LIKELIHOOD_UNSPECIFIED,
			IncludeQuote:  false,
			CustomInfoTypes: []*dlppb.CustomInfoType{{
				InfoType:   surrogateInfoType(),
				Type:       &dlppb.CustomInfoType_Regex_{Regex: &dlppb.CustomInfoType_Regex{Pattern: ".*"}},
				Likelihood: dlppb.Likelihood_VERY_LIKELY,
			}},
		},
		DeidentifyConfig: deterministicConfig(key),
		Item:             contentItem(plaintext),
	}
}

// buildReidentifyRequest reverses a framed surrogate value.
func buildReidentifyRequest(projectID, framed string, key *dlppb.CryptoKey) *dlppb.ReidentifyContentRequest {
	return &dlppb.ReidentifyContentRequest{
		Parent: projectParent(projectID),
		InspectConfig: &dlppb.InspectConfig{
			IncludeQuote: false,
			CustomInfoTypes: []*dlppb.CustomInfoType{{
				InfoType: surrogateInfoType(),
				Type:     &dlppb.CustomInfoType_SurrogateType_{SurrogateType: &dlppb.CustomInfoType_SurrogateType{}},
			}},
		},
		ReidentifyConfig: deterministicConfig(key),
		Item:             contentItem(framed),
	}
}

// transformationFailed reports whether any summary result carries ERROR.
func transformationFailed(overview *dlppb.TransformationOverview) bool {
	for _, summary := range overview.GetTransformationSummaries() {
		for _, result := range summary.GetResults() {
			if result.GetCode() == dlppb.TransformationSummary_ERROR {
				return true
			}
		}
	}
	return false
}
