package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/flowline-dev/flowline/internal/model"
)

// runnerRequest is the JSON document piped to an external runner command.
type runnerRequest struct {
	Step struct {
		ID          string `json:"id"`
		AgentID     string `json:"agentId"`
		Model       string `json:"model"`
		MaxTurns    int    `json:"maxTurns"`
		TokenBudget int    `json:"tokenBudget"`
		TimeoutSec  int    `json:"timeoutSec"`
		Description string `json:"description"`
	} `json:"step"`
	StoryID         string   `json:"storyId"`
	StoryPath       string   `json:"storyPath"`
	PreviousOutputs []string `json:"previousOutputs"`
}

// runnerResponse is what the external runner command prints on stdout.
type runnerResponse struct {
	Status        string   `json:"status"`
	FilesModified []string `json:"filesModified"`
	FilesCreated  []string `json:"filesCreated"`
	Output        string   `json:"output"`
	TokensUsed    int      `json:"tokensUsed"`
	ModelUsed     string   `json:"modelUsed"`
	Error         *string  `json:"error"`
}

// commandRunner invokes an external executable through the shell, feeding
// the step context as JSON on stdin and reading a JSON result from stdout.
// This is where actual agent/model work happens; flowline itself only
// supervises it.
type commandRunner struct {
	command string
}

func (r *commandRunner) Run(ctx context.Context, stepCtx model.StepContext, def model.StepDefinition) (*model.StepResult, error) {
	var req runnerRequest
	req.Step.ID = def.ID
	req.Step.AgentID = def.AgentID
	req.Step.Model = def.Model
	req.Step.MaxTurns = def.MaxTurns
	req.Step.TokenBudget = def.TokenBudget
	req.Step.TimeoutSec = int(def.Timeout / time.Second)
	req.Step.Description = def.Description
	req.StoryID = stepCtx.StoryID
	req.StoryPath = stepCtx.StoryPath
	req.PreviousOutputs = stepCtx.PreviousOutputs

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal runner request: %w", err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", r.command)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stderr = os.Stderr
	var stdout bytes.Buffer
	cmd.Stdout = &stdout

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("runner command: %w", err)
	}

	var resp runnerResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("parse runner response: %w", err)
	}
	if resp.Status == "" {
		resp.Status = model.StepStatusCompleted
	}

	return &model.StepResult{
		StepID:        def.ID,
		Status:        resp.Status,
		FilesModified: resp.FilesModified,
		FilesCreated:  resp.FilesCreated,
		Output:        resp.Output,
		TokensUsed:    resp.TokensUsed,
		ModelUsed:     resp.ModelUsed,
		Error:         resp.Error,
	}, nil
}

// noopRunner marks every step completed without doing any work. Used for
// dry runs when no external runner is configured.
type noopRunner struct{}

func (noopRunner) Run(ctx context.Context, stepCtx model.StepContext, def model.StepDefinition) (*model.StepResult, error) {
	return &model.StepResult{
		StepID: def.ID,
		Status: model.StepStatusCompleted,
		Output: fmt.Sprintf("dry run: %s for story %s", def.ID, stepCtx.StoryID),
	}, nil
}
