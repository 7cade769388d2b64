package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/api"
	"helios-hq/helios/pkg/stream"
	"helios-hq/helios/pkg/telemetry/logging"
)

// HandleChatCompletion runs the non-streaming chat lifecycle and returns
// the public response with the public model id restored.
func (o *Orchestrator) HandleChatCompletion(ctx context.Context, req *api.ChatCompletionRequest, requestID string) (*api.ChatCompletionResponse, error) {
	ctx = logging.WithModel(ctx, req.Model)
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "gateway.chat",
			trace.WithAttributes(attribute.String("model", req.Model)))
		defer span.End()
	}

	start := time.Now()
	attempts, policy, err := o.plan(ctx, req.Model)
	if err != nil {
		o.metrics.RecordRequest("chat", "", req.Model, "error", time.Since(start))
		return nil, err
	}

	var lastErr error
	for i, a := range attempts {
		if i > 0 {
			o.metrics.RecordFallback(req.Model, string(policy.Strategy))
			if err := waitBetweenAttempts(ctx, a.delay); err != nil {
				return nil, err
			}
		}

		slug := a.candidate.Provider.Slug
		adapter, br, err := o.acquire(a)
		if err != nil {
			// A breaker that opened after planning is skipped without
			// consuming an attempt slot's failure budget.
			lastErr = err
			continue
		}

		resp, err := adapter.Chat(ctx, o.buildRequest(req, a, requestID, i+1))
		o.settle(br, slug, err)
		if err != nil {
			o.logger.WarnContext(ctx, "chat attempt failed",
				"request_id", requestID, "provider", slug, "attempt", i+1, "error", err)
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}

		out := o.publicResponse(req.Model, resp)
		duration := time.Since(start)
		o.metrics.RecordRequest("chat", slug, req.Model, "success", duration)
		o.metrics.RecordTokens(slug, req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
		o.usage.Record(ctx, UsageRecord{
			RequestID: requestID,
			Operation: "chat",
			Model:     req.Model,
			Provider:  slug,
			Status:    "success",
			Attempts:  i + 1,
			Duration:  duration,
			Usage:     resp.Usage,
		})
		return out, nil
	}

	o.metrics.RecordRequest("chat", "", req.Model, "error", time.Since(start))
	o.usage.Record(ctx, UsageRecord{
		RequestID: requestID,
		Operation: "chat",
		Model:     req.Model,
		Status:    "error",
		Attempts:  len(attempts),
		Duration:  time.Since(start),
	})
	return nil, lastErr
}

// HandleChatStream runs the streaming chat lifecycle. Fallback to another
// provider happens only before the first delta has been flushed; once
// bytes are on the wire a failure surfaces as an error-shaped chunk.
func (o *Orchestrator) HandleChatStream(ctx context.Context, w http.ResponseWriter, req *api.ChatCompletionRequest, requestID string) error {
	ctx = logging.WithModel(ctx, req.Model)
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "gateway.chat_stream",
			trace.WithAttributes(attribute.String("model", req.Model)))
		defer span.End()
	}

	attempts, policy, err := o.plan(ctx, req.Model)
	if err != nil {
		return err
	}

	start := time.Now()
	var lastErr error
	for i, a := range attempts {
		if !a.candidate.Mapping.SupportsStreaming {
			lastErr = adapters.NewCapabilityError(a.candidate.Provider.Slug, "stream_chat")
			continue
		}
		if i > 0 {
			o.metrics.RecordFallback(req.Model, string(policy.Strategy))
			if err := waitBetweenAttempts(ctx, a.delay); err != nil {
				return err
			}
		}

		slug := a.candidate.Provider.Slug
		adapter, br, err := o.acquire(a)
		if err != nil {
			lastErr = err
			continue
		}

		streamCtx, cancel := context.WithCancel(ctx)
		deltas, err := adapter.StreamChat(streamCtx, o.buildRequest(req, a, requestID, i+1))
		if err != nil {
			cancel()
			o.settle(br, slug, err)
			lastErr = err
			if !retryable(err) {
				break
			}
			continue
		}

		// Hold the first delta back: if the provider fails before
		// producing anything, the next candidate can still be tried
		// without the client having seen any bytes.
		first, ok := o.awaitFirstDelta(streamCtx, deltas)
		if !ok && ctx.Err() != nil {
			// The client went away while we waited; nothing to attribute
			// to the provider and nobody left to fall back for.
			cancel()
			return ctx.Err()
		}
		if !ok || first.Err != nil {
			cancel()
			failure := first.Err
			if failure == nil {
				failure = adapters.NewTransportError(slug, errors.New("stream closed before any delta"))
			}
			o.settle(br, slug, failure)
			lastErr = failure
			if !retryable(failure) {
				break
			}
			continue
		}

		err = o.deliverStream(streamCtx, w, req.Model, requestID, first, deltas)
		cancel()
		if clientSideError(err) {
			// A disconnect or failed write after the first chunk is the
			// client's doing; the provider's breaker stays untouched.
			o.metrics.RecordAttempt(slug, "client_closed")
		} else {
			o.settle(br, slug, err)
		}

		duration := time.Since(start)
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordRequest("chat_stream", slug, req.Model, status, duration)
		o.usage.Record(ctx, UsageRecord{
			RequestID: requestID,
			Operation: "chat_stream",
			Model:     req.Model,
			Provider:  slug,
			Status:    status,
			Attempts:  i + 1,
			Duration:  duration,
		})
		// Bytes were flushed; the sequence ends here regardless of err.
		return nil
	}

	if lastErr == nil {
		lastErr = &api.RequestError{
			Message: "no provider supports streaming for this model",
			Type:    api.ErrTypeInvalidRequest,
			Code:    "unsupported_capability",
			Status:  http.StatusBadRequest,
		}
	}
	return lastErr
}

// clientSideError reports whether a delivered stream ended because of
// the client rather than the provider. Translate returns a delta's
// adapter error for provider failures; everything else it can return
// is the request context's cancellation or a ResponseWriter write
// failure, both client-attributable.
func clientSideError(err error) bool {
	if err == nil {
		return false
	}
	var ae *adapters.AdapterError
	if errors.As(err, &ae) {
		return ae.Kind == adapters.KindCanceled
	}
	return true
}

// awaitFirstDelta pulls one delta without letting the wait outlive the
// request.
func (o *Orchestrator) awaitFirstDelta(ctx context.Context, deltas <-chan adapters.Delta) (adapters.Delta, bool) {
	select {
	case d, ok := <-deltas:
		return d, ok
	case <-ctx.Done():
		return adapters.Delta{}, false
	}
}

// deliverStream commits the response to the wire: SSE headers, the held
// first delta, then the translated remainder.
func (o *Orchestrator) deliverStream(ctx context.Context, w http.ResponseWriter, model, requestID string, first adapters.Delta, deltas <-chan adapters.Delta) error {
	o.metrics.StreamStarted()
	defer o.metrics.StreamEnded()

	api.SetSSEHeaders(w)

	merged := make(chan adapters.Delta)
	go func() {
		defer close(merged)
		select {
		case merged <- first:
		case <-ctx.Done():
			return
		}
		for d := range deltas {
			select {
			case merged <- d:
			case <-ctx.Done():
				return
			}
		}
	}()

	return stream.Translate(ctx, w, stream.Meta{
		ID:      newCompletionID(),
		Model:   model,
		Created: time.Now().Unix(),
	}, merged)
}

// buildRequest converts the public payload into the normalized form with
// the provider's internal model id substituted.
func (o *Orchestrator) buildRequest(req *api.ChatCompletionRequest, a attempt, requestID string, attemptNo int) *adapters.Request {
	maxTokens := req.MaxTokens
	if a.candidate.Mapping.MaxTokens > 0 && (maxTokens == 0 || maxTokens > a.candidate.Mapping.MaxTokens) {
		maxTokens = a.candidate.Mapping.MaxTokens
	}

	return &adapters.Request{
		Model:    a.candidate.Mapping.InternalModel,
		Messages: req.Messages,
		Options: adapters.Options{
			MaxTokens:   maxTokens,
			Temperature: req.Temperature,
			TopP:        req.TopP,
			Stop:        req.Stop,
			Stream:      req.Stream,
		},
		Meta: adapters.Meta{
			RequestID:   requestID,
			PublicModel: req.Model,
			Attempt:     attemptNo,
			Headers:     req.Header,
		},
	}
}

// publicResponse rewrites an adapter response into the public shape with
// the public model id and a fresh completion id.
func (o *Orchestrator) publicResponse(publicModel string, resp *adapters.Response) *api.ChatCompletionResponse {
	created := resp.Created
	if created == 0 {
		created = time.Now().Unix()
	}

	usage := api.Usage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	if usage.TotalTokens == 0 {
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	}

	return &api.ChatCompletionResponse{
		ID:      newCompletionID(),
		Object:  "chat.completion",
		Created: created,
		Model:   publicModel,
		Choices: []api.ChatCompletionChoice{{
			Index: 0,
			Message: adapters.Message{
				Role:    adapters.RoleAssistant,
				Content: resp.Content,
			},
			FinishReason: resp.FinishReason,
		}},
		Usage: usage,
	}
}
