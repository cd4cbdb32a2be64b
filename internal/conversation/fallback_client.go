package conversation

import (
	"context"

	"github.com/clinvoy/clinic-ai-platform/pkg/logging"
)

// FallbackClient wraps a primary completion client with a secondary
// provider tried only when the primary fails.
type FallbackClient struct {
	primary  CompletionClient
	fallback CompletionClient
	logger   *logging.Logger
}

// NewFallbackClient creates a fallback-enabled client. fallback may be nil.
func NewFallbackClient(primary, fallback CompletionClient, logger *logging.Logger) *FallbackClient {
	if logger == nil {
		logger = logging.Default()
	}
	return &FallbackClient{primary: primary, fallback: fallback, logger: logger}
}

// Complete tries the primary, then the fallback. Tool calls only ever come
// from the primary; the fallback answers in plain text.
func (c *FallbackClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error) {
	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		return resp, nil
	}
	if c.fallback == nil || ctx.Err() != nil {
		return CompletionResponse{}, err
	}

	c.logger.Warn("primary completion failed, trying fallback", "error", err)

	fbResp, fbErr := c.fallback.Complete(ctx, req)
	if fbErr != nil {
		c.logger.Error("fallback completion also failed",
			"primary_error", err,
			"fallback_error", fbErr,
		)
		return CompletionResponse{}, fbErr
	}
	return fbResp, nil
}
