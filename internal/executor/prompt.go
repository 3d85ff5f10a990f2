package executor

import (
	"fmt"
	"strings"

	"github.com/agentoven/agentoven/rootcause/internal/tools"
	"github.com/agentoven/agentoven/rootcause/pkg/models"
)

// ── Initial Messages ─────────────────────────────────────────

const systemPreamble = `You are an SRE diagnosing the root cause of an incident in a microservice system.
Work step by step. In every reply call exactly one tool using this XML format:

<tool_name>
<param_name>value</param_name>
</tool_name>

Only the first tool call of a reply is executed. Wait for its result before deciding the next step.
Timestamps in tool parameters use ISO 8601 UTC, e.g. 2025-06-05T16:10:02Z.
Data files are partitioned by local date (UTC+8); an incident late in the UTC day may live in the next day's partition.`

const completionRules = `When the root cause is identified, call attempt_completion. Its result must be one JSON object:
{"component": "<faulty component>", "reason": "<short root cause>", "time": "<YYYY-MM-DD HH:MM:SS>",
 "reasoning_trace": [{"step": 1, "action": "<tool call>", "observation": "<key evidence, at most 100 characters>"}]}
Component names must come from the observed data. Keep reason to a few words.`

// buildSystemPrompt renders the role, the tool catalogue and the answer
// rules.
func buildSystemPrompt(schemas []models.ToolSchema) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n## Tools\n")
	for _, s := range schemas {
		b.WriteString(describeSchema(s))
	}
	b.WriteString("\n## Final answer\n")
	b.WriteString(completionRules)
	return b.String()
}

func describeSchema(s models.ToolSchema) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n### %s\n", s.Name)
	if s.Description != "" {
		b.WriteString(s.Description)
		b.WriteByte('\n')
	}
	if len(s.Params) == 0 {
		b.WriteString("Parameters: none\n")
		return b.String()
	}
	b.WriteString("Parameters:\n")
	for _, p := range s.Params {
		req := "optional"
		if p.Required {
			req = "required"
		}
		fmt.Fprintf(&b, "- %s (%s, %s)", p.Name, p.Kind, req)
		if p.Description != "" {
			fmt.Fprintf(&b, ": %s", p.Description)
		}
		b.WriteByte('\n')
	}
	if s.Name == tools.CompletionTool {
		return b.String()
	}
	fmt.Fprintf(&b, "Usage:\n<%s>\n", s.Name)
	for _, p := range s.Params {
		if p.Required {
			fmt.Fprintf(&b, "<%s>...</%s>\n", p.Name, p.Name)
		}
	}
	fmt.Fprintf(&b, "</%s>\n", s.Name)
	return b.String()
}

// buildTaskPrompt renders the initial user message of a case.
func buildTaskPrompt(c models.Case, hint string) string {
	var b strings.Builder
	b.WriteString("## Fault case\n")
	fmt.Fprintf(&b, "UUID: %s\n", c.UUID)
	fmt.Fprintf(&b, "Description: %s\n", c.Description)
	b.WriteString("\n## Available data\n")
	b.WriteString(hint)
	b.WriteString("\n\n## Requirements\n")
	b.WriteString("1. Start from the anomaly window and confirm which partitions hold relevant data.\n")
	b.WriteString("2. Look for metric spikes, error logs and abnormal traces around the window.\n")
	b.WriteString("3. Follow the evidence to the single component that caused the incident.\n")
	b.WriteString("4. Submit the answer with attempt_completion.\n")
	return b.String()
}

// ── Feedback Messages ────────────────────────────────────────

func formatToolResult(name string, obs models.Observation) string {
	status := "OK"
	if !obs.Success {
		status = "ERROR"
	}
	return fmt.Sprintf("=== Tool Result: %s ===\n%s\n%s", name, status, obs.Text())
}

func noToolCallMessage(names []string) string {
	return fmt.Sprintf("Your reply did not contain a tool call. Reply with exactly one call in XML format, "+
		"using one of: %s. Call attempt_completion when the analysis is done.", strings.Join(names, ", "))
}

func rejectedAnswerMessage(err error) string {
	return fmt.Sprintf("=== Tool Result: %s ===\nERROR\n%v\nResubmit with a JSON object holding non-empty component, reason and time.",
		tools.CompletionTool, err)
}

const continuePrompt = "\n\nContinue the analysis."
