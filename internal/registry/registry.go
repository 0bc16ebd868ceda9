// Package registry loads workflow step definitions from a YAML
// configuration document. The executor consumes the resulting step lists
// and never parses configuration itself.
package registry

import (
	"fmt"
	"os"
	"sort"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/flowline-dev/flowline/internal/model"
)

type document struct {
	Version   int                     `yaml:"version"`
	Workflows map[string]workflowSpec `yaml:"workflows"`
}

type workflowSpec struct {
	Description string     `yaml:"description"`
	Steps       []stepSpec `yaml:"steps"`
}

type stepSpec struct {
	ID          string `yaml:"id"`
	Agent       string `yaml:"agent"`
	Model       string `yaml:"model"`
	MaxTurns    int    `yaml:"max_turns"`
	TokenBudget int    `yaml:"token_budget"`
	Timeout     string `yaml:"timeout"`
	Description string `yaml:"description"`
}

// Registry holds the validated workflows of one configuration document.
type Registry struct {
	workflows map[string][]model.StepDefinition
}

// Load reads and validates a workflow document.
func Load(path string) (*Registry, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read workflow config: %w", err)
	}

	var doc document
	if err := yamlv3.Unmarshal(content, &doc); err != nil {
		return nil, fmt.Errorf("parse workflow config: %w", err)
	}
	if len(doc.Workflows) == 0 {
		return nil, fmt.Errorf("workflow config %s defines no workflows", path)
	}

	reg := &Registry{workflows: make(map[string][]model.StepDefinition, len(doc.Workflows))}
	for name, wf := range doc.Workflows {
		defs, err := buildSteps(name, wf)
		if err != nil {
			return nil, err
		}
		reg.workflows[name] = defs
	}
	return reg, nil
}

func buildSteps(workflow string, wf workflowSpec) ([]model.StepDefinition, error) {
	if len(wf.Steps) == 0 {
		return nil, fmt.Errorf("workflow %q has no steps", workflow)
	}

	seen := make(map[string]bool, len(wf.Steps))
	defs := make([]model.StepDefinition, 0, len(wf.Steps))
	for i, s := range wf.Steps {
		if s.ID == "" {
			return nil, fmt.Errorf("workflow %q step %d has no id", workflow, i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("workflow %q has duplicate step id %q", workflow, s.ID)
		}
		seen[s.ID] = true
		if s.Agent == "" {
			return nil, fmt.Errorf("workflow %q step %q has no agent", workflow, s.ID)
		}

		var timeout time.Duration
		if s.Timeout != "" {
			d, err := time.ParseDuration(s.Timeout)
			if err != nil {
				return nil, fmt.Errorf("workflow %q step %q: invalid timeout %q: %w",
					workflow, s.ID, s.Timeout, err)
			}
			if d < 0 {
				return nil, fmt.Errorf("workflow %q step %q: negative timeout %q",
					workflow, s.ID, s.Timeout)
			}
			timeout = d
		}

		defs = append(defs, model.StepDefinition{
			ID:          s.ID,
			AgentID:     s.Agent,
			Model:       s.Model,
			MaxTurns:    s.MaxTurns,
			TokenBudget: s.TokenBudget,
			Timeout:     timeout,
			Description: s.Description,
		})
	}
	return defs, nil
}

// Steps returns the ordered step definitions of the named workflow.
func (r *Registry) Steps(workflow string) ([]model.StepDefinition, error) {
	defs, ok := r.workflows[workflow]
	if !ok {
		return nil, fmt.Errorf("unknown workflow %q", workflow)
	}
	out := make([]model.StepDefinition, len(defs))
	copy(out, defs)
	return out, nil
}

// Workflows lists the available workflow names, sorted.
func (r *Registry) Workflows() []string {
	names := make([]string, 0, len(r.workflows))
	for name := range r.workflows {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
