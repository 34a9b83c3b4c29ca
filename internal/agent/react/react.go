// Package react provides a tool-calling fallback for models without
// native function calling. It wraps an agent.LLMProvider, rewrites the
// system prompt with a fixed Thought / Action / Action Input /
// Observation / Final Answer grammar, and parses the streamed text
// line-by-line, synthesising tool-call chunks equivalent to the native
// ones so the agentic loop upstream needs no special casing.
package react

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/ollm-core/agentcore/internal/agent"
	"github.com/ollm-core/agentcore/pkg/models"
)

const (
	prefixThought     = "Thought:"
	prefixAction      = "Action:"
	prefixActionInput = "Action Input:"
	prefixObservation = "Observation:"
	prefixFinalAnswer = "Final Answer:"
)

// maxRecoveries bounds how many malformed Action Input blocks are
// answered with a recovery observation before the turn is given up.
const maxRecoveries = 3

// Handler wraps a provider that lacks native tool calling.
type Handler struct {
	provider agent.LLMProvider
}

var _ agent.LLMProvider = (*Handler)(nil)

// NewHandler wraps provider with the ReAct grammar.
func NewHandler(provider agent.LLMProvider) *Handler {
	return &Handler{provider: provider}
}

// Name returns the wrapped provider's name with a react suffix.
func (h *Handler) Name() string { return h.provider.Name() + "+react" }

// Models returns the wrapped provider's models.
func (h *Handler) Models() []agent.Model { return h.provider.Models() }

// SupportsTools reports true: the grammar supplies tool calling even
// though the underlying provider cannot.
func (h *Handler) SupportsTools() bool { return true }

// Complete rewrites the request into grammar form, streams the wrapped
// provider's text through the line parser, and emits synthesised
// tool-call chunks. On a malformed Action Input it appends an
// `Observation: Error: invalid JSON` exchange and re-prompts the model
// within the same turn.
func (h *Handler) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	rewritten := h.rewrite(req)
	out := make(chan *agent.CompletionChunk)
	go h.run(ctx, rewritten, out)
	return out, nil
}

func (h *Handler) run(ctx context.Context, req *agent.CompletionRequest, out chan<- *agent.CompletionChunk) {
	defer close(out)

	for attempt := 0; ; attempt++ {
		transcript, call, parseErr, streamErr := h.streamOnce(ctx, req, out)
		if streamErr != nil {
			out <- &agent.CompletionChunk{Error: streamErr, Done: true}
			return
		}
		if call != nil {
			out <- &agent.CompletionChunk{ToolCall: call}
			out <- &agent.CompletionChunk{Done: true}
			return
		}
		if parseErr == nil {
			out <- &agent.CompletionChunk{Done: true}
			return
		}
		if attempt >= maxRecoveries {
			out <- &agent.CompletionChunk{Error: fmt.Errorf("react: %d malformed action inputs in one turn: %w", attempt+1, parseErr), Done: true}
			return
		}
		// Recovery: feed the model its own output plus an error
		// observation and let it try again within the same turn.
		req = cloneRequest(req)
		req.Messages = append(req.Messages,
			agent.CompletionMessage{Role: "assistant", Content: transcript},
			agent.CompletionMessage{Role: "user", Content: prefixObservation + " Error: invalid JSON"},
		)
	}
}

// streamOnce runs one provider exchange, forwarding Final Answer text
// downstream (Thought lines are dropped) and accumulating any Action block. It returns the full
// raw transcript (for recovery re-prompts), a synthesised call when a
// complete well-formed Action block was seen, a parse error when the
// block's input was not valid JSON, or a stream error.
func (h *Handler) streamOnce(ctx context.Context, req *agent.CompletionRequest, out chan<- *agent.CompletionChunk) (transcript string, call *models.ToolCall, parseErr, streamErr error) {
	chunks, err := h.provider.Complete(ctx, req)
	if err != nil {
		return "", nil, nil, err
	}

	p := newParser()
	var raw strings.Builder
	for chunk := range chunks {
		if chunk.Error != nil {
			return raw.String(), nil, nil, chunk.Error
		}
		if chunk.Text != "" {
			raw.WriteString(chunk.Text)
			for _, visible := range p.feed(chunk.Text) {
				out <- &agent.CompletionChunk{Text: visible}
			}
		}
		if chunk.Done {
			break
		}
	}
	select {
	case <-ctx.Done():
		return raw.String(), nil, nil, ctx.Err()
	default:
	}

	for _, visible := range p.flush() {
		out <- &agent.CompletionChunk{Text: visible}
	}

	action, input, ok := p.action()
	if !ok {
		return raw.String(), nil, nil, nil
	}
	var payload json.RawMessage
	if err := json.Unmarshal([]byte(input), &payload); err != nil {
		return raw.String(), nil, fmt.Errorf("action input is not valid JSON: %w", err), nil
	}
	return raw.String(), &models.ToolCall{
		ID:    uuid.NewString(),
		Name:  action,
		Input: payload,
	}, nil, nil
}

// rewrite builds the grammar request: the system prompt gains the
// instruction block and tool catalogue, tool-role history becomes
// Observation lines, and native tool definitions are stripped so the
// underlying provider never sees them.
func (h *Handler) rewrite(req *agent.CompletionRequest) *agent.CompletionRequest {
	out := cloneRequest(req)
	out.System = grammarPrompt(req.System, req.Tools)
	out.Tools = nil

	msgs := make([]agent.CompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "tool":
			content := msg.Content
			if content == "" && len(msg.ToolResults) > 0 {
				parts := make([]string, 0, len(msg.ToolResults))
				for _, tr := range msg.ToolResults {
					parts = append(parts, tr.Content)
				}
				content = strings.Join(parts, "\n")
			}
			msgs = append(msgs, agent.CompletionMessage{
				Role:    "user",
				Content: prefixObservation + " " + content,
			})
		case "assistant":
			clean := msg
			if len(msg.ToolCalls) > 0 && msg.Content == "" {
				// Reconstruct the grammar form the model originally
				// produced, so the transcript stays coherent.
				var b strings.Builder
				for _, tc := range msg.ToolCalls {
					fmt.Fprintf(&b, "%s %s\n%s %s\n", prefixAction, tc.Name, prefixActionInput, string(tc.Input))
				}
				clean.Content = strings.TrimRight(b.String(), "\n")
			}
			clean.ToolCalls = nil
			msgs = append(msgs, clean)
		default:
			msgs = append(msgs, msg)
		}
	}
	out.Messages = msgs
	return out
}

func grammarPrompt(system string, tools []agent.Tool) string {
	var b strings.Builder
	if system != "" {
		b.WriteString(system)
		b.WriteString("\n\n")
	}
	b.WriteString("You have access to tools, but you must request them in text using this exact format:\n\n")
	b.WriteString("Thought: your reasoning about what to do next\n")
	b.WriteString("Action: the tool name, exactly as listed below\n")
	b.WriteString("Action Input: the tool arguments as a single JSON object\n\n")
	b.WriteString("After an Action you will receive an Observation with the result. ")
	b.WriteString("When you have enough information, respond with:\n\n")
	b.WriteString("Final Answer: your answer to the user\n\n")
	b.WriteString("Available tools:\n")
	for _, t := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", t.Name(), t.Description())
		if schema := t.Schema(); len(schema) > 0 {
			fmt.Fprintf(&b, "  input schema: %s\n", string(schema))
		}
	}
	return b.String()
}

func cloneRequest(req *agent.CompletionRequest) *agent.CompletionRequest {
	out := *req
	out.Messages = append([]agent.CompletionMessage(nil), req.Messages...)
	return &out
}

// parser is the line-oriented grammar state machine. Final Answer content
// (and the lines that follow it) is forwarded to the caller as visible
// text; Thought and Observation lines are dropped; Action and Action Input
// lines are captured and withheld.
type parser struct {
	buf        strings.Builder
	actionName string
	inputLines []string
	collecting bool
	sawFinal   bool
}

func newParser() *parser { return &parser{} }

// feed consumes a text delta and returns any visible text ready to
// forward. Only complete lines are classified; partial lines wait in the
// buffer for the rest of the delta stream.
func (p *parser) feed(text string) []string {
	p.buf.WriteString(text)
	content := p.buf.String()

	var visible []string
	for {
		idx := strings.IndexByte(content, '\n')
		if idx < 0 {
			break
		}
		line := content[:idx]
		content = content[idx+1:]
		if v, ok := p.consumeLine(line); ok {
			visible = append(visible, v+"\n")
		}
	}
	p.buf.Reset()
	p.buf.WriteString(content)
	return visible
}

// flush processes whatever is left in the buffer as a final line.
func (p *parser) flush() []string {
	rest := p.buf.String()
	p.buf.Reset()
	if strings.TrimSpace(rest) == "" {
		return nil
	}
	if v, ok := p.consumeLine(rest); ok {
		return []string{v}
	}
	return nil
}

// consumeLine classifies one complete line. The returned string is
// forwarded to the user when ok is true.
func (p *parser) consumeLine(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(trimmed, prefixAction) && !strings.HasPrefix(trimmed, prefixActionInput):
		p.actionName = strings.TrimSpace(strings.TrimPrefix(trimmed, prefixAction))
		p.collecting = false
		return "", false
	case strings.HasPrefix(trimmed, prefixActionInput):
		p.inputLines = p.inputLines[:0]
		p.collecting = true
		if rest := strings.TrimSpace(strings.TrimPrefix(trimmed, prefixActionInput)); rest != "" {
			p.inputLines = append(p.inputLines, rest)
		}
		return "", false
	case strings.HasPrefix(trimmed, prefixThought):
		p.collecting = false
		return "", false
	case strings.HasPrefix(trimmed, prefixFinalAnswer):
		p.collecting = false
		p.sawFinal = true
		return strings.TrimSpace(strings.TrimPrefix(trimmed, prefixFinalAnswer)), true
	case strings.HasPrefix(trimmed, prefixObservation):
		// Models sometimes hallucinate their own observations; drop them.
		p.collecting = false
		return "", false
	case p.collecting:
		if trimmed != "" {
			p.inputLines = append(p.inputLines, trimmed)
		}
		return "", false
	case p.sawFinal:
		// Continuation lines of a multi-line final answer.
		return line, true
	default:
		return "", false
	}
}

// action returns the parsed Action block, if a complete one was seen.
func (p *parser) action() (name, input string, ok bool) {
	if p.actionName == "" || len(p.inputLines) == 0 {
		return "", "", false
	}
	return p.actionName, strings.Join(p.inputLines, "\n"), true
}
