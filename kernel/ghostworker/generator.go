package ghostworker

import (
	"context"
	"fmt"
	"log"
)

// GenerateRequest carries one content-generation call.
type GenerateRequest struct {
	TaskType string
	System   string
	Prompt   string
}

// Generator produces draft bodies. The real implementation wraps an LLM
// collaborator; it is injected so the worker never couples to a vendor.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// Executor performs the side effect of an approved draft (send the mail,
// post the message). Injected for the same reason as Generator.
type Executor interface {
	Execute(ctx context.Context, taskType, body string) (string, error)
}

// LogGenerator is the offline implementation: deterministic copy, with
// the call logged. Used in development and tests.
type LogGenerator struct{}

func (LogGenerator) Generate(_ context.Context, req GenerateRequest) (string, error) {
	log.Printf("GHOST: generate %s: %s", req.TaskType, req.Prompt)
	return fmt.Sprintf("[draft:%s] %s", req.TaskType, req.Prompt), nil
}

// LogExecutor logs the execution instead of performing it.
type LogExecutor struct{}

func (LogExecutor) Execute(_ context.Context, taskType, body string) (string, error) {
	log.Printf("GHOST: execute %s (%d chars)", taskType, len(body))
	return fmt.Sprintf("%s sent", taskType), nil
}
