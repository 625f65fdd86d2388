package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Framework is a reusable prompt-engineering framework template.
type Framework struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Template    string `json:"template"`
}

// frameworks is the built-in prompt framework library.
var frameworks = map[string]Framework{
	"co-star": {
		ID:          "co-star",
		Name:        "CO-STAR",
		Description: "Context, Objective, Style, Tone, Audience, Response format.",
		Template: "# CONTEXT\n{context}\n\n# OBJECTIVE\n{objective}\n\n# STYLE\n{style}\n\n" +
			"# TONE\n{tone}\n\n# AUDIENCE\n{audience}\n\n# RESPONSE FORMAT\n{format}",
	},
	"rtf": {
		ID:          "rtf",
		Name:        "RTF",
		Description: "Role, Task, Format — the minimal structured prompt.",
		Template:    "Act as {role}.\n\nTask: {task}\n\nFormat: {format}",
	},
	"crispe": {
		ID:          "crispe",
		Name:        "CRISPE",
		Description: "Capacity/Role, Insight, Statement, Personality, Experiment.",
		Template: "# CAPACITY AND ROLE\n{role}\n\n# INSIGHT\n{insight}\n\n# STATEMENT\n{statement}\n\n" +
			"# PERSONALITY\n{personality}\n\n# EXPERIMENT\n{experiment}",
	},
	"chain-of-thought": {
		ID:          "chain-of-thought",
		Name:        "Chain of Thought",
		Description: "Step-by-step reasoning scaffold for complex tasks.",
		Template:    "{task}\n\nThink through this step by step:\n1. Identify what is being asked.\n2. List the relevant facts and constraints.\n3. Work through the reasoning explicitly.\n4. State the final answer clearly.",
	},
}

// ListFrameworksInput has no parameters.
type ListFrameworksInput struct{}

// ListFrameworksOutput lists the available framework templates.
type ListFrameworksOutput struct {
	Frameworks []Framework `json:"frameworks"`
}

// GetFrameworkInput selects a framework by id.
type GetFrameworkInput struct {
	Framework string `json:"framework" jsonschema:"the framework id, e.g. 'co-star' or 'rtf'"`
}

// AnalyzePromptInput carries the prompt text to analyze.
type AnalyzePromptInput struct {
	Prompt string `json:"prompt" jsonschema:"the prompt text to analyze"`
}

// AnalyzePromptOutput reports structural statistics about a prompt.
type AnalyzePromptOutput struct {
	Words          int      `json:"words"`
	Characters     int      `json:"characters"`
	Lines          int      `json:"lines"`
	Sections       []string `json:"sections"`
	HasRole        bool     `json:"hasRole"`
	HasFormat      bool     `json:"hasFormat"`
	HasConstraints bool     `json:"hasConstraints"`
}

// CurrentDatetimeInput has no parameters.
type CurrentDatetimeInput struct{}

// CurrentDatetimeOutput reports the server's current time.
type CurrentDatetimeOutput struct {
	ISO     string `json:"iso"`
	Unix    int64  `json:"unix"`
	Weekday string `json:"weekday"`
}

// Default builds the registry with the built-in prompt-workspace tools.
func Default() (*Registry, error) {
	return NewRegistry(
		New("list_frameworks",
			"List the available prompt-engineering framework templates.",
			listFrameworks),
		New("get_framework_template",
			"Fetch the full template for a prompt-engineering framework by id.",
			getFrameworkTemplate),
		New("analyze_prompt",
			"Report structural statistics about a prompt: length, sections, and whether it assigns a role, output format, and constraints.",
			analyzePrompt),
		New("current_datetime",
			"Get the current date and time on the server.",
			currentDatetime),
	)
}

func listFrameworks(_ context.Context, _ ListFrameworksInput) (ListFrameworksOutput, error) {
	out := ListFrameworksOutput{Frameworks: make([]Framework, 0, len(frameworks))}
	for _, f := range frameworks {
		out.Frameworks = append(out.Frameworks, f)
	}
	sort.Slice(out.Frameworks, func(i, j int) bool {
		return out.Frameworks[i].ID < out.Frameworks[j].ID
	})
	return out, nil
}

func getFrameworkTemplate(_ context.Context, in GetFrameworkInput) (Framework, error) {
	f, ok := frameworks[strings.ToLower(strings.TrimSpace(in.Framework))]
	if !ok {
		return Framework{}, fmt.Errorf("unknown framework %q", in.Framework)
	}
	return f, nil
}

func analyzePrompt(_ context.Context, in AnalyzePromptInput) (AnalyzePromptOutput, error) {
	lines := strings.Split(in.Prompt, "\n")
	lower := strings.ToLower(in.Prompt)

	var sections []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			sections = append(sections, strings.TrimSpace(strings.TrimLeft(trimmed, "#")))
		}
	}

	return AnalyzePromptOutput{
		Words:      len(strings.Fields(in.Prompt)),
		Characters: len([]rune(in.Prompt)),
		Lines:      len(lines),
		Sections:   sections,
		HasRole: strings.Contains(lower, "you are") ||
			strings.Contains(lower, "act as") ||
			strings.Contains(lower, "role:"),
		HasFormat: strings.Contains(lower, "format") ||
			strings.Contains(lower, "output:") ||
			strings.Contains(lower, "markdown"),
		HasConstraints: strings.Contains(lower, "do not") ||
			strings.Contains(lower, "don't") ||
			strings.Contains(lower, "avoid") ||
			strings.Contains(lower, "constraint"),
	}, nil
}

func currentDatetime(_ context.Context, _ CurrentDatetimeInput) (CurrentDatetimeOutput, error) {
	now := time.Now()
	return CurrentDatetimeOutput{
		ISO:     now.Format(time.RFC3339),
		Unix:    now.Unix(),
		Weekday: now.Weekday().String(),
	}, nil
}
