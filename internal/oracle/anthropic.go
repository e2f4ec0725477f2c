package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sahel-hr/import-cli/internal/model"
	"github.com/sahel-hr/import-cli/internal/resilience"
	"github.com/sahel-hr/import-cli/pkg/anthropic"
)

const planSystemPrompt = `You classify sheets exported from HR and payroll tools into entity types for a consolidated import.

Entity types: employees (the primary identity type), salary_history, contracts, time_entries, leaves, benefits, documents.

Given sheet headers and sample rows, respond with a valid JSON object:
{"entity_types": [{"key": "<type>", "display_name": "<human name>", "primary": <bool>, "required_fields": [...], "optional_fields": [...], "sources": [{"file": "<file>", "sheet": "<sheet>"}]}]}

Rules:
- Exactly one entity type may be primary (employees).
- Field names are lower_snake_case taken from the sheet headers.
- Every sheet must appear in exactly one entity type's sources.`

const planUserPrompt = `Country context: %s

Sheets:
%s`

const resolveSystemPrompt = `You resolve a field-level disagreement between HR data sources describing the same employee.

Pick the most trustworthy value. Prefer more recent sources, more authoritative systems (payroll over ad-hoc exports), and more complete values. Respond with a valid JSON object:
{"chosen_source": "<file>", "chosen_value": <value>, "confidence": <0-100>, "requires_user_confirmation": <bool>, "reasoning": "<one sentence>"}`

const resolveUserPrompt = `Entity type: %s
Country context: %s
Field: %s (severity: %s)

Observed values:
%s`

// AnthropicOracle implements Oracle with Claude calls.
type AnthropicOracle struct {
	client  anthropic.Client
	model   string
	country string
	retry   resilience.RetryConfig
}

// NewAnthropic creates the Anthropic-backed oracle. country provides the
// business-rule context mentioned in prompts (e.g. "CI").
func NewAnthropic(client anthropic.Client, modelID, country string) *AnthropicOracle {
	if country == "" {
		country = "generic"
	}
	return &AnthropicOracle{
		client:  client,
		model:   modelID,
		country: country,
		retry:   resilience.DefaultRetryConfig(),
	}
}

// PlanImport asks the model to group sheets into entity types.
func (o *AnthropicOracle) PlanImport(ctx context.Context, sheets []model.SheetSummary) (*model.ImportPlan, error) {
	var b strings.Builder
	for _, s := range sheets {
		fmt.Fprintf(&b, "- file=%q sheet=%q rows=%d headers=%s\n", s.File, s.Sheet, s.RowCount, strings.Join(s.Headers, ", "))
		for _, row := range s.SampleRows {
			fmt.Fprintf(&b, "    sample: %s\n", strings.Join(row, " | "))
		}
	}

	resp, err := o.createMessage(ctx, anthropic.MessageRequest{
		Model:     o.model,
		MaxTokens: 2048,
		System:    anthropic.BuildCachedSystemBlocks(planSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(planUserPrompt, o.country, b.String())},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "oracle: plan import")
	}

	plan, err := parsePlan(extractText(resp))
	if err != nil {
		return nil, err
	}

	zap.L().Info("oracle: import plan built",
		zap.Int("sheets", len(sheets)),
		zap.Int("entity_types", len(plan.EntityTypes)),
		zap.Int64("input_tokens", resp.Usage.InputTokens),
		zap.Int64("output_tokens", resp.Usage.OutputTokens),
	)
	return plan, nil
}

// ResolveConflict asks the model to choose among the conflicting values.
func (o *AnthropicOracle) ResolveConflict(ctx context.Context, c model.FieldConflict, entityType, country string) (*model.ConflictResolution, error) {
	var b strings.Builder
	for _, s := range c.Sources {
		fmt.Fprintf(&b, "- source=%q sheet=%q observed_at=%s value=%v\n",
			s.SourceFile, s.SourceSheet, s.ObservedAt.Format("2006-01-02"), s.Value)
	}

	resp, err := o.createMessage(ctx, anthropic.MessageRequest{
		Model:     o.model,
		MaxTokens: 512,
		System:    anthropic.BuildCachedSystemBlocks(resolveSystemPrompt),
		Messages: []anthropic.Message{
			{Role: "user", Content: fmt.Sprintf(resolveUserPrompt, entityType, country, c.Field, c.Severity, b.String())},
		},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "oracle: resolve conflict on %s", c.Field)
	}

	res, err := parseResolution(extractText(resp))
	if err != nil {
		return nil, err
	}
	res.ResolvedBy = model.ResolvedByOracle
	return res, nil
}

func (o *AnthropicOracle) createMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	var resp *anthropic.MessageResponse
	err := resilience.Do(ctx, o.retry, func(ctx context.Context) error {
		var callErr error
		resp, callErr = o.client.CreateMessage(ctx, req)
		return callErr
	})
	return resp, err
}

func parsePlan(text string) (*model.ImportPlan, error) {
	var plan model.ImportPlan
	if err := json.Unmarshal([]byte(cleanJSON(text)), &plan); err != nil {
		return nil, eris.Wrap(err, "oracle: parse import plan")
	}
	if len(plan.EntityTypes) == 0 {
		return nil, eris.New("oracle: import plan has no entity types")
	}
	return &plan, nil
}

func parseResolution(text string) (*model.ConflictResolution, error) {
	var res model.ConflictResolution
	if err := json.Unmarshal([]byte(cleanJSON(text)), &res); err != nil {
		return nil, eris.Wrap(err, "oracle: parse resolution")
	}
	if res.ChosenSource == "" {
		return nil, eris.New("oracle: resolution missing chosen source")
	}
	return &res, nil
}

// extractText concatenates all text content blocks from a response.
func extractText(resp *anthropic.MessageResponse) string {
	if resp == nil {
		return ""
	}
	var parts []string
	for _, block := range resp.Content {
		if block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// cleanJSON extracts a JSON object from text that may carry markdown fences
// or prose wrapping.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
