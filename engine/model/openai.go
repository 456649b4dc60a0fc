package model

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	contractx "github.com/ajudei/concierge/engine/contract"
)

// Config tunes the OpenAI adapter. Stateful selects the Responses API with
// previous-response chaining; otherwise full history is replayed through
// Chat Completions.
type Config struct {
	BaseURL             string        `split_words:"true"`
	Timeout             time.Duration `split_words:"true" default:"60s"`
	MaxCompletionTokens int64         `split_words:"true" default:"2000"`
	Stateful            bool          `split_words:"true" default:"true"`
}

// OpenAIGateway implements Gateway against the OpenAI API with per-tenant
// credentials; a client is built per call because keys are tenant data.
type OpenAIGateway struct {
	cfg Config
}

var _ Gateway = (*OpenAIGateway)(nil)

func NewOpenAIGateway(cfg Config) *OpenAIGateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxCompletionTokens <= 0 {
		cfg.MaxCompletionTokens = 2000
	}
	return &OpenAIGateway{cfg: cfg}
}

func (g *OpenAIGateway) client(apiKey string) openai.Client {
	opts := []option.RequestOption{
		option.WithAPIKey(strings.TrimSpace(apiKey)),
		option.WithRequestTimeout(g.cfg.Timeout),
	}
	if trimmed := strings.TrimRight(strings.TrimSpace(g.cfg.BaseURL), "/"); trimmed != "" {
		opts = append(opts, option.WithBaseURL(trimmed))
	}
	return openai.NewClient(opts...)
}

func (g *OpenAIGateway) Complete(ctx context.Context, req Request) (*Turn, error) {
	if strings.TrimSpace(req.APIKey) == "" {
		return nil, fmt.Errorf("%w: model api key is empty", contractx.ErrConfigurationMissing)
	}
	if strings.TrimSpace(req.Model) == "" {
		return nil, fmt.Errorf("%w: model name is empty", contractx.ErrConfigurationMissing)
	}
	if g.cfg.Stateful {
		return g.completeStateful(ctx, req)
	}
	return g.completeStateless(ctx, req)
}

func (g *OpenAIGateway) completeStateful(ctx context.Context, req Request) (*Turn, error) {
	params := responses.ResponseNewParams{
		Model:           req.Model,
		Instructions:    openai.String(req.Instructions),
		MaxOutputTokens: openai.Int(g.cfg.MaxCompletionTokens),
		Store:           openai.Bool(true),
	}
	if req.PreviousResponseID != "" {
		params.PreviousResponseID = openai.String(req.PreviousResponseID)
	}

	switch {
	case req.ToolOutcome != nil:
		// A chained response whose predecessor ended in a function call must
		// carry the call output; a new utterance may ride along with it.
		items := responses.ResponseInputParam{
			responses.ResponseInputItemParamOfFunctionCallOutput(req.ToolOutcome.CallID, string(req.ToolOutcome.Result)),
		}
		if text := strings.TrimSpace(req.Input); text != "" {
			items = append(items, responses.ResponseInputItemUnionParam{
				OfMessage: &responses.EasyInputMessageParam{
					Role:    responses.EasyInputMessageRoleUser,
					Content: responses.EasyInputMessageContentUnionParam{OfString: openai.String(text)},
				},
			})
		}
		params.Input = responses.ResponseNewParamsInputUnion{OfInputItemList: items}
	case strings.TrimSpace(req.Input) != "":
		params.Input = responses.ResponseNewParamsInputUnion{OfString: openai.String(req.Input)}
	default:
		return nil, fmt.Errorf("%w: stateful call needs an input utterance", contractx.ErrValidation)
	}

	if tools := buildResponseTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	client := g.client(req.APIKey)
	resp, err := client.Responses.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: responses call: %v", contractx.ErrUpstreamModel, err)
	}

	turn := &Turn{
		Handle:     handleOrDefault(req.Handle, resp.ID),
		ResponseID: resp.ID,
		Text:       strings.TrimSpace(resp.OutputText()),
	}
	for _, item := range resp.Output {
		if item.Type != "function_call" {
			continue
		}
		fc := item.AsFunctionCall()
		callID := fc.CallID
		if callID == "" {
			callID = fc.ID
		}
		if callID == "" {
			callID = uuid.NewString()
		}
		turn.ToolCalls = append(turn.ToolCalls, contractx.ToolInvocation{
			Name:      fc.Name,
			Arguments: json.RawMessage(fc.Arguments),
			CallID:    callID,
		})
	}

	if turn.Text == "" && len(turn.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: empty model output", contractx.ErrUpstreamModel)
	}
	return turn, nil
}

func (g *OpenAIGateway) completeStateless(ctx context.Context, req Request) (*Turn, error) {
	messages, err := buildChatMessages(req)
	if err != nil {
		return nil, err
	}

	params := openai.ChatCompletionNewParams{
		Messages:            messages,
		Model:               req.Model,
		MaxCompletionTokens: openai.Int(g.cfg.MaxCompletionTokens),
	}
	if tools := buildChatTools(req.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	client := g.client(req.APIKey)
	completion, err := client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("%w: chat completion: %v", contractx.ErrUpstreamModel, err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("%w: completion has no choices", contractx.ErrUpstreamModel)
	}

	choice := completion.Choices[0].Message
	turn := &Turn{
		Handle:     handleOrDefault(req.Handle, completion.ID),
		ResponseID: completion.ID,
		Text:       strings.TrimSpace(choice.Content),
	}
	for _, call := range choice.ToolCalls {
		callID := call.ID
		if callID == "" {
			callID = uuid.NewString()
		}
		turn.ToolCalls = append(turn.ToolCalls, contractx.ToolInvocation{
			Name:      call.Function.Name,
			Arguments: json.RawMessage(call.Function.Arguments),
			CallID:    callID,
		})
	}

	if turn.Text == "" && len(turn.ToolCalls) == 0 {
		return nil, fmt.Errorf("%w: empty model output", contractx.ErrUpstreamModel)
	}
	return turn, nil
}

// supersededResult closes a tool call whose output never reached the log,
// matching the result recorded when a pending call is superseded.
const supersededResult = `{"status":"superseded"}`

// buildChatMessages replays the stored log as Chat Completions messages.
// Tool calls are stored one assistant row per call; the API wants one
// assistant message per turn with every call's output directly behind it, so
// consecutive tool-call rows are merged and outputs are pulled adjacent.
// Calls the log never resolved get a superseded result, otherwise the
// backend rejects the whole history.
func buildChatMessages(req Request) ([]openai.ChatCompletionMessageParamUnion, error) {
	if len(req.History) == 0 {
		return nil, fmt.Errorf("%w: stateless call needs message history", contractx.ErrValidation)
	}

	outputs := make(map[string]string)
	for _, m := range req.History {
		if m.Role == contractx.RoleTool && m.ToolCallID != "" {
			if _, ok := outputs[m.ToolCallID]; !ok {
				outputs[m.ToolCallID] = m.Content
			}
		}
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	if strings.TrimSpace(req.Instructions) != "" {
		messages = append(messages, openai.SystemMessage(req.Instructions))
	}

	emitted := make(map[string]bool)
	for i := 0; i < len(req.History); i++ {
		m := req.History[i]
		switch m.Role {
		case contractx.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case contractx.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		case contractx.RoleAssistant:
			if m.ToolCallID == "" {
				messages = append(messages, openai.AssistantMessage(m.Content))
				continue
			}
			var calls []openai.ChatCompletionMessageToolCallParam
			for ; i < len(req.History); i++ {
				c := req.History[i]
				if c.Role != contractx.RoleAssistant || c.ToolCallID == "" {
					break
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   c.ToolCallID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.ToolName,
						Arguments: c.Content,
					},
				})
			}
			i--
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: calls,
				},
			})
			for _, call := range calls {
				out, ok := outputs[call.ID]
				if !ok {
					out = supersededResult
				}
				messages = append(messages, openai.ToolMessage(out, call.ID))
				emitted[call.ID] = true
			}
		case contractx.RoleTool:
			if emitted[m.ToolCallID] {
				continue
			}
			messages = append(messages, openai.ToolMessage(m.Content, m.ToolCallID))
		}
	}
	return messages, nil
}

func buildChatTools(defs []contractx.ToolDef) []openai.ChatCompletionToolParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, t := range defs {
		tools = append(tools, openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			},
		})
	}
	return tools
}

func buildResponseTools(defs []contractx.ToolDef) []responses.ToolUnionParam {
	if len(defs) == 0 {
		return nil
	}
	tools := make([]responses.ToolUnionParam, 0, len(defs))
	for _, t := range defs {
		tool := responses.ToolParamOfFunction(t.Name, t.Parameters, false)
		if tool.OfFunction != nil && strings.TrimSpace(t.Description) != "" {
			tool.OfFunction.Description = openai.String(t.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

func handleOrDefault(handle, responseID string) string {
	if strings.TrimSpace(handle) != "" {
		return handle
	}
	return responseID
}
