// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package batch

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/swarm/lib/schema/fleet"
)

// PlanFile is a batch authored on disk as JSONC (JSON with comments
// and trailing commas):
//
//	{
//	  "target": "joesguns",
//	  "host": "rented-0",   // where the one-shot workers run
//	  "threads": 4,
//	  "spacing": "200ms",
//	  "steps": [
//	    {"name": "hack", "kind": "exploit", "duration": "40s"},
//	    {"name": "grow", "kind": "grow", "duration": "60s", "threads": 12},
//	  ],
//	  "order": ["hack", "grow"],
//	}
type PlanFile struct {
	Target  string
	Host    string
	Program string
	Threads int
	Spacing time.Duration
	Steps   []Step
	Order   []string
}

type planDocument struct {
	Target  string         `json:"target"`
	Host    string         `json:"host"`
	Program string         `json:"program"`
	Threads int            `json:"threads"`
	Spacing string         `json:"spacing"`
	Steps   []stepDocument `json:"steps"`
	Order   []string       `json:"order"`
}

type stepDocument struct {
	Name     string              `json:"name"`
	Kind     fleet.OperationKind `json:"kind"`
	Duration string              `json:"duration"`
	Threads  int                 `json:"threads"`
}

// ParsePlan decodes a JSONC plan document.
func ParsePlan(data []byte) (*PlanFile, error) {
	var document planDocument
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return nil, fmt.Errorf("parsing batch plan: %w", err)
	}

	plan := &PlanFile{
		Target:  document.Target,
		Host:    document.Host,
		Program: document.Program,
		Threads: document.Threads,
		Order:   document.Order,
	}
	if document.Spacing != "" {
		spacing, err := time.ParseDuration(document.Spacing)
		if err != nil {
			return nil, fmt.Errorf("parsing batch plan spacing: %w", err)
		}
		plan.Spacing = spacing
	}
	for _, step := range document.Steps {
		duration, err := time.ParseDuration(step.Duration)
		if err != nil {
			return nil, fmt.Errorf("parsing duration of step %q: %w", step.Name, err)
		}
		plan.Steps = append(plan.Steps, Step{
			Name:     step.Name,
			Kind:     step.Kind,
			Duration: duration,
			Threads:  step.Threads,
		})
	}
	return plan, nil
}

// LoadPlanFile reads and parses a JSONC plan from disk.
func LoadPlanFile(path string) (*PlanFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	plan, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// Schedule plans the file's steps.
func (p *PlanFile) Schedule() ([]Scheduled, error) {
	return Plan(p.Target, p.Steps, p.Order, p.Spacing)
}
