package gateway

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/api"
	"helios-hq/helios/pkg/telemetry/logging"
)

// HandleEmbeddings runs the embeddings lifecycle with the same fallback
// semantics as chat.
func (o *Orchestrator) HandleEmbeddings(ctx context.Context, req *api.EmbeddingsRequest, requestID string) (*api.EmbeddingsResponse, error) {
	ctx = logging.WithModel(ctx, req.Model)
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "gateway.embeddings",
			trace.WithAttributes(attribute.String("model", req.Model)))
		defer span.End()
	}

	start := time.Now()
	attempts, policy, err := o.plan(ctx, req.Model)
	if err != nil {
		o.metrics.RecordRequest("embeddings", "", req.Model, "error", time.Since(start))
		return nil, err
	}

	var lastErr error
	for i, a := range attempts {
		if !a.candidate.Mapping.SupportsEmbeddings {
			lastErr = adapters.NewCapabilityError(a.candidate.Provider.Slug, "embeddings")
			continue
		}
		if i > 0 {
			o.metrics.RecordFallback(req.Model, string(policy.Strategy))
			if err := waitBetweenAttempts(ctx, a.delay); err != nil {
				return nil, err
			}
		}

		slug := a.candidate.Provider.Slug
		adapter, br, err := o.acquire(a)
		if err != nil {
			lastErr = err
			continue
		}

		resp, err := adapter.Embeddings(ctx, &adapters.EmbeddingsRequest{
			Model: a.candidate.Mapping.InternalModel,
			Input: []string(req.Input),
			Meta: adapters.Meta{
				RequestID:   requestID,
				PublicModel: req.Model,
				Attempt:     i + 1,
				Headers:     req.Header,
			},
		})
		o.settle(br, slug, err)
		if err != nil {
			o.logger.WarnContext(ctx, "embeddings attempt failed",
				"request_id", requestID, "provider", slug, "attempt", i+1, "error", err)
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}

		duration := time.Since(start)
		o.metrics.RecordRequest("embeddings", slug, req.Model, "success", duration)
		o.metrics.RecordTokens(slug, req.Model, resp.Usage.PromptTokens, 0)
		o.usage.Record(ctx, UsageRecord{
			RequestID: requestID,
			Operation: "embeddings",
			Model:     req.Model,
			Provider:  slug,
			Status:    "success",
			Attempts:  i + 1,
			Duration:  duration,
			Usage:     resp.Usage,
		})
		return o.publicEmbeddings(req.Model, resp), nil
	}

	o.metrics.RecordRequest("embeddings", "", req.Model, "error", time.Since(start))
	if lastErr == nil {
		lastErr = adapters.NewCapabilityError("", "embeddings")
	}
	return nil, lastErr
}

func (o *Orchestrator) publicEmbeddings(publicModel string, resp *adapters.EmbeddingsResponse) *api.EmbeddingsResponse {
	data := make([]api.Embedding, len(resp.Vectors))
	for i, v := range resp.Vectors {
		data[i] = api.Embedding{Object: "embedding", Embedding: v, Index: i}
	}

	usage := api.Usage{
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens
	}

	return &api.EmbeddingsResponse{
		Object: "list",
		Data:   data,
		Model:  publicModel,
		Usage:  usage,
	}
}

// AvailableModels lists every public model id served by at least one
// enabled provider.
func (o *Orchestrator) AvailableModels(ctx context.Context) (*api.ModelList, error) {
	infos, err := o.resolver.Models(ctx)
	if err != nil {
		return nil, err
	}

	out := &api.ModelList{Object: "list", Data: make([]api.Model, 0, len(infos))}
	for _, info := range infos {
		out.Data = append(out.Data, api.Model{
			ID:                 info.Mapping.PublicModel,
			Object:             "model",
			OwnedBy:            info.OwnedBy,
			MaxTokens:          info.Mapping.MaxTokens,
			ContextWindow:      info.Mapping.ContextWindow,
			SupportsStreaming:  info.Mapping.SupportsStreaming,
			SupportsEmbeddings: info.Mapping.SupportsEmbeddings,
		})
	}
	return out, nil
}
