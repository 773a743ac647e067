package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient backs the strategist, executor, and reviewer capabilities
// with the Anthropic API. Every exchange is a blocking request/response with
// a caller-supplied context deadline; a timeout or a malformed response is a
// hard failure of the run.
type AnthropicClient struct {
	api   *anthropic.Client
	model anthropic.Model
}

var (
	_ Strategist = (*AnthropicClient)(nil)
	_ Executor   = (*AnthropicClient)(nil)
	_ Reviewer   = (*AnthropicClient)(nil)
)

// NewAnthropicClient creates a collaborator client with the given API key
// and model.
func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := anthropic.NewClient(opts...)
	return &AnthropicClient{
		api:   &client,
		model: anthropic.Model(model),
	}
}

const strategistSystem = `You are the strategist for a step-execution engine. Given one plan step, produce a concrete implementation strategy. Return ONLY a JSON object with these fields:
- "approach": a concise description of how to implement the step
- "expected_touch_set": array of repo-relative file paths this step should create or modify
- "ordered_substeps": array of short substep descriptions in execution order
- "verification_plan": how to verify the step is done correctly
- "risks": array of risks or open concerns (may be empty)

Rules:
- The expected_touch_set must be exhaustive; files changed outside it are treated as drift
- Return valid JSON only, no markdown fencing or explanation`

// Strategize implements Strategist.
func (c *AnthropicClient) Strategize(ctx context.Context, req StrategyRequest) (*Strategy, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan: %s\nStep anchor: %s\nTitle: %s\n", req.PlanRef, req.Step.Anchor, req.Step.Title)
	if req.Step.Description != "" {
		fmt.Fprintf(&sb, "Description:\n%s\n", req.Step.Description)
	}
	if len(req.Step.Artifacts) > 0 {
		fmt.Fprintf(&sb, "Declared artifacts: %s\n", strings.Join(req.Step.Artifacts, ", "))
	}
	if len(req.Step.Verification) > 0 {
		fmt.Fprintf(&sb, "Verification criteria: %s\n", strings.Join(req.Step.Verification, "; "))
	}
	if len(req.PriorFeedback) > 0 {
		fmt.Fprintf(&sb, "Feedback from a prior attempt:\n- %s\n", strings.Join(req.PriorFeedback, "\n- "))
	}

	raw, err := c.complete(ctx, strategistSystem, sb.String(), 4096)
	if err != nil {
		return nil, err
	}

	var strategy Strategy
	if err := json.Unmarshal([]byte(raw), &strategy); err != nil {
		return nil, &ContractViolationError{Phase: "strategize", Field: "(root)", Reason: fmt.Sprintf("not valid JSON: %v", err), Raw: raw}
	}
	if err := ValidateStrategy(&strategy, raw); err != nil {
		return nil, err
	}
	return &strategy, nil
}

const executorSystem = `You are the executor for a step-execution engine. Implement the given step according to the strategy, then report. Return ONLY a JSON object with these fields:
- "success": boolean
- "halted_for_drift": boolean, true if you stopped because the work diverged from the strategy
- "files_created": array of repo-relative paths
- "files_modified": array of repo-relative paths
- "tests_run": integer
- "tests_passed": integer
- "drift_assessment": REQUIRED object with "severity" (none|minor|moderate|major) and "note" describing any divergence from the expected touch set

Rules:
- drift_assessment must be present on every response, even when empty of findings
- Report every file you touched; unreported changes are contract violations
- Return valid JSON only, no markdown fencing or explanation`

// Execute implements Executor.
func (c *AnthropicClient) Execute(ctx context.Context, req ExecutionRequest) (*ExecutionResult, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan: %s\nStep anchor: %s\nTitle: %s\n", req.PlanRef, req.Step.Anchor, req.Step.Title)
	if req.Strategy != nil {
		fmt.Fprintf(&sb, "Approach:\n%s\n", req.Strategy.Approach)
		fmt.Fprintf(&sb, "Expected touch set: %s\n", strings.Join(req.Strategy.ExpectedTouchSet, ", "))
		if len(req.Strategy.OrderedSubsteps) > 0 {
			fmt.Fprintf(&sb, "Substeps:\n- %s\n", strings.Join(req.Strategy.OrderedSubsteps, "\n- "))
		}
	}
	if len(req.Feedback) > 0 {
		fmt.Fprintf(&sb, "Address these specific failing checks from review:\n- %s\n", strings.Join(req.Feedback, "\n- "))
	}

	raw, err := c.complete(ctx, executorSystem, sb.String(), 8192)
	if err != nil {
		return nil, err
	}

	var result ExecutionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, &ContractViolationError{Phase: "execute", Field: "(root)", Reason: fmt.Sprintf("not valid JSON: %v", err), Raw: raw}
	}
	if err := ValidateExecution(&result, raw); err != nil {
		return nil, err
	}
	return &result, nil
}

const reviewerSystem = `You are the reviewer for a step-execution engine. Judge whether the executed work matches the strategy and the step's verification criteria. Return ONLY a JSON object with these fields:
- "conformance_checks": array of {"description", "passed" (boolean), "detail"}
- "issues": array of strings describing problems found (may be empty)
- "recommendation": one of "APPROVE", "REVISE", "ESCALATE"

Rules:
- Every verification criterion of the step must appear as a conformance check
- Recommend REVISE only with at least one failing check the executor can act on
- Recommend ESCALATE when the work cannot be fixed by revision
- Return valid JSON only, no markdown fencing or explanation`

// Review implements Reviewer.
func (c *AnthropicClient) Review(ctx context.Context, req ReviewRequest) (*ReviewVerdict, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Plan: %s\nStep anchor: %s\nTitle: %s\n", req.PlanRef, req.Step.Anchor, req.Step.Title)
	if len(req.Step.Verification) > 0 {
		fmt.Fprintf(&sb, "Verification criteria: %s\n", strings.Join(req.Step.Verification, "; "))
	}
	if req.Strategy != nil {
		fmt.Fprintf(&sb, "Strategy approach:\n%s\n", req.Strategy.Approach)
	}
	if req.Execution != nil {
		execJSON, _ := json.Marshal(req.Execution)
		fmt.Fprintf(&sb, "Execution result:\n%s\n", execJSON)
	}

	raw, err := c.complete(ctx, reviewerSystem, sb.String(), 4096)
	if err != nil {
		return nil, err
	}

	var verdict ReviewVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		return nil, &ContractViolationError{Phase: "review", Field: "(root)", Reason: fmt.Sprintf("not valid JSON: %v", err), Raw: raw}
	}
	if err := ValidateReview(&verdict, raw); err != nil {
		return nil, err
	}
	return &verdict, nil
}

// complete sends one request and returns the response text with any
// markdown fencing stripped.
func (c *AnthropicClient) complete(ctx context.Context, system, user string, maxTokens int64) (string, error) {
	msg, err := c.api.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic API call: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text = block.Text
			break
		}
	}
	if text == "" {
		return "", fmt.Errorf("no text content in API response")
	}

	return stripFences(text), nil
}

// stripFences removes markdown code fencing if present.
func stripFences(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		lines := strings.SplitN(text, "\n", 2)
		if len(lines) > 1 {
			text = lines[1]
		}
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}
	return text
}
