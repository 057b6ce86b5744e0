package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/canvasflow/engine/internal/domain/execution"
	"github.com/canvasflow/engine/internal/domain/workflow"
)

// Generator produces text for the llm node. The actual model call is
// an external collaborator behind this interface.
type Generator interface {
	Generate(ctx context.Context, model, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, model, prompt string) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, model, prompt string) (string, error) {
	return f(ctx, model, prompt)
}

// LLMHandler renders the configured prompt against each record and
// writes the generated text into the output field.
type LLMHandler struct {
	gen Generator
}

func NewLLMHandler(gen Generator) LLMHandler {
	return LLMHandler{gen: gen}
}

func (LLMHandler) Type() string {
	return workflow.TypeLLM
}

func (h LLMHandler) Execute(ctx context.Context, in Input) (*Result, error) {
	var cfg workflow.LLMConfig
	if err := decodeConfig(in, &cfg); err != nil {
		return nil, err
	}
	outputField := cfg.OutputField
	if outputField == "" {
		outputField = "generated"
	}

	out := execution.CloneRecords(in.Records)
	for _, record := range out {
		prompt := renderPrompt(cfg.Prompt, record)
		text, err := h.gen.Generate(ctx, cfg.Model, prompt)
		if err != nil {
			return nil, fmt.Errorf("generate: %w", err)
		}
		record[outputField] = text
	}
	return &Result{Records: out}, nil
}

// renderPrompt substitutes {{field}} placeholders with record values.
func renderPrompt(template string, record execution.Record) string {
	result := template
	for key, value := range record {
		placeholder := "{{" + key + "}}"
		if strings.Contains(result, placeholder) {
			result = strings.ReplaceAll(result, placeholder, asString(value))
		}
	}
	return result
}
