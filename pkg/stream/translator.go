// Package stream converts an adapter's delta sequence into the public
// SSE chunk stream.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"helios-hq/helios/pkg/adapters"
	"helios-hq/helios/pkg/api"
)

// Meta identifies the stream being translated; every chunk carries it.
type Meta struct {
	ID      string
	Model   string
	Created int64
}

// Translate pulls deltas until the channel closes, the context is
// canceled, or a delta carries an error. Each chunk is flushed as soon
// as it is written. The first chunk announces the assistant role; the
// terminating sentinel is always written unless the client went away.
//
// A mid-stream adapter failure becomes one final error-shaped chunk so
// the client can tell a failed stream from a finished one. The error is
// also returned so the caller can account for it.
func Translate(ctx context.Context, w http.ResponseWriter, meta Meta, deltas <-chan adapters.Delta) error {
	if meta.Created == 0 {
		meta.Created = time.Now().Unix()
	}

	first := true
	for {
		select {
		case <-ctx.Done():
			// Client is gone; stop pulling so the adapter sees the
			// cancellation and tears down its process or connection.
			return ctx.Err()

		case d, ok := <-deltas:
			if !ok {
				return writeDone(w)
			}

			if d.Err != nil {
				writeErrorChunk(w, meta, d.Err)
				writeDone(w)
				return d.Err
			}

			chunk := api.ChatCompletionChunk{
				ID:      meta.ID,
				Object:  "chat.completion.chunk",
				Created: meta.Created,
				Model:   meta.Model,
				Choices: []api.ChunkChoice{{Index: 0}},
			}
			if first {
				chunk.Choices[0].Delta.Role = "assistant"
				first = false
			}
			chunk.Choices[0].Delta.Content = d.Content
			if d.FinishReason != "" {
				reason := d.FinishReason
				chunk.Choices[0].FinishReason = &reason
			}
			if d.Usage != nil {
				chunk.Usage = &api.Usage{
					PromptTokens:     d.Usage.PromptTokens,
					CompletionTokens: d.Usage.CompletionTokens,
					TotalTokens:      d.Usage.TotalTokens,
				}
			}

			if err := writeChunk(w, &chunk); err != nil {
				return err
			}
		}
	}
}

func writeChunk(w http.ResponseWriter, chunk *api.ChatCompletionChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	return api.WriteSSEData(w, payload)
}

// writeErrorChunk emits the terminal error-shaped chunk for a stream
// that failed after bytes were already flushed.
func writeErrorChunk(w http.ResponseWriter, meta Meta, cause error) {
	body, _ := api.Classify(cause)
	reason := "error"
	chunk := api.ChatCompletionChunk{
		ID:      meta.ID,
		Object:  "chat.completion.chunk",
		Created: meta.Created,
		Model:   meta.Model,
		Choices: []api.ChunkChoice{{
			Index:        0,
			FinishReason: &reason,
			Error:        &body,
		}},
	}
	writeChunk(w, &chunk)
}

func writeDone(w http.ResponseWriter) error {
	return api.WriteSSEDone(w)
}
