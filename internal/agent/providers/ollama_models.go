package providers

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ollm-core/agentcore/internal/agent"
)

// Model management against the local Ollama HTTP surface: list via
// /api/tags, pull via /api/pull (streaming NDJSON progress), delete via
// /api/delete, show via /api/show. Show's response seeds the context
// profile table with parameter size, quantisation, and context length.

var (
	_ agent.ModelLister  = (*OllamaProvider)(nil)
	_ agent.ModelPuller  = (*OllamaProvider)(nil)
	_ agent.ModelDeleter = (*OllamaProvider)(nil)
	_ agent.ModelShower  = (*OllamaProvider)(nil)
)

type ollamaTagsResponse struct {
	Models []struct {
		Name    string `json:"name"`
		Details struct {
			Family            string `json:"family"`
			ParameterSize     string `json:"parameter_size"`
			QuantizationLevel string `json:"quantization_level"`
		} `json:"details"`
	} `json:"models"`
}

// ListModels returns the models the Ollama daemon reports from /api/tags.
func (p *OllamaProvider) ListModels(ctx context.Context) ([]agent.Model, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, NewProviderError("ollama", "", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewProviderError("ollama", "", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, p.statusError(resp, "")
	}

	var tags ollamaTagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, NewProviderError("ollama", "", fmt.Errorf("decode tags: %w", err))
	}
	models := make([]agent.Model, 0, len(tags.Models))
	for _, m := range tags.Models {
		models = append(models, agent.Model{ID: m.Name, Name: m.Name})
	}
	return models, nil
}

// PullModel streams a model download through /api/pull, forwarding each
// progress line to the callback.
func (p *OllamaProvider) PullModel(ctx context.Context, model string, progress func(agent.PullProgress)) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return NewProviderError("ollama", model, fmt.Errorf("model is required"))
	}
	body, err := json.Marshal(map[string]any{"model": model, "stream": true})
	if err != nil {
		return NewProviderError("ollama", model, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/pull", bytes.NewReader(body))
	if err != nil {
		return NewProviderError("ollama", model, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return NewProviderError("ollama", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return p.statusError(resp, model)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev struct {
			agent.PullProgress
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return NewProviderError("ollama", model, fmt.Errorf("decode pull progress: %w", err))
		}
		if ev.Error != "" {
			return NewProviderError("ollama", model, fmt.Errorf("pull failed: %s", ev.Error))
		}
		if progress != nil {
			progress(ev.PullProgress)
		}
	}
	return scanner.Err()
}

// DeleteModel removes a model through /api/delete.
func (p *OllamaProvider) DeleteModel(ctx context.Context, model string) error {
	model = strings.TrimSpace(model)
	if model == "" {
		return NewProviderError("ollama", model, fmt.Errorf("model is required"))
	}
	body, err := json.Marshal(map[string]any{"model": model})
	if err != nil {
		return NewProviderError("ollama", model, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, p.baseURL+"/api/delete", bytes.NewReader(body))
	if err != nil {
		return NewProviderError("ollama", model, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return NewProviderError("ollama", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return p.statusError(resp, model)
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

type ollamaShowResponse struct {
	Details struct {
		Family            string `json:"family"`
		ParameterSize     string `json:"parameter_size"`
		QuantizationLevel string `json:"quantization_level"`
	} `json:"details"`
	ModelInfo map[string]any `json:"model_info"`
}

// ShowModel fetches model metadata through /api/show.
func (p *OllamaProvider) ShowModel(ctx context.Context, model string) (*agent.ModelInfo, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, NewProviderError("ollama", model, fmt.Errorf("model is required"))
	}
	body, err := json.Marshal(map[string]any{"model": model})
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/show", bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewProviderError("ollama", model, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, p.statusError(resp, model)
	}

	var show ollamaShowResponse
	if err := json.NewDecoder(resp.Body).Decode(&show); err != nil {
		return nil, NewProviderError("ollama", model, fmt.Errorf("decode show: %w", err))
	}
	info := &agent.ModelInfo{
		Name:          model,
		Family:        show.Details.Family,
		ParameterSize: show.Details.ParameterSize,
		Quantisation:  show.Details.QuantizationLevel,
	}
	// The context length key is family-prefixed, e.g. "llama.context_length".
	for key, value := range show.ModelInfo {
		if strings.HasSuffix(key, ".context_length") {
			if n, ok := value.(float64); ok {
				info.ContextLength = int(n)
			}
		}
	}
	return info, nil
}

func (p *OllamaProvider) statusError(resp *http.Response, model string) error {
	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return NewProviderError("ollama", model, fmt.Errorf("ollama status %d: %s", resp.StatusCode, strings.TrimSpace(string(errBody)))).WithStatus(resp.StatusCode)
}
