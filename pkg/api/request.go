package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"helios-hq/helios/pkg/adapters"
)

// MaxBodyBytes bounds request bodies; chat payloads with long histories
// still fit comfortably.
const MaxBodyBytes = 10 << 20

// ParseChatRequest decodes and validates a chat completion body.
func ParseChatRequest(r *http.Request) (*ChatCompletionRequest, error) {
	var req ChatCompletionRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	if req.Model == "" {
		return nil, NewInvalidRequestError("model is required")
	}
	if len(req.Messages) == 0 {
		return nil, NewInvalidRequestError("messages must not be empty")
	}
	for i, m := range req.Messages {
		switch m.Role {
		case adapters.RoleSystem, adapters.RoleUser, adapters.RoleAssistant:
		default:
			return nil, NewInvalidRequestError(fmt.Sprintf("messages[%d] has unknown role %q", i, m.Role))
		}
	}
	if req.MaxTokens < 0 {
		return nil, NewInvalidRequestError("max_tokens must not be negative")
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return nil, NewInvalidRequestError("temperature must be between 0 and 2")
	}
	req.Header = r.Header
	return &req, nil
}

// ParseEmbeddingsRequest decodes and validates an embeddings body.
func ParseEmbeddingsRequest(r *http.Request) (*EmbeddingsRequest, error) {
	var req EmbeddingsRequest
	if err := decodeBody(r, &req); err != nil {
		return nil, err
	}

	if req.Model == "" {
		return nil, NewInvalidRequestError("model is required")
	}
	if len(req.Input) == 0 {
		return nil, NewInvalidRequestError("input must not be empty")
	}
	req.Header = r.Header
	return &req, nil
}

func decodeBody(r *http.Request, out any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	dec := json.NewDecoder(body)
	if err := dec.Decode(out); err != nil {
		if err == io.EOF {
			return NewInvalidRequestError("request body is empty")
		}
		return NewInvalidRequestError("request body is not valid JSON: " + err.Error())
	}
	if dec.More() {
		return NewInvalidRequestError("request body contains trailing data")
	}
	return nil
}
