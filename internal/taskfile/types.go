// Package taskfile parses task definition files and resolves their defaults.
package taskfile

import (
	"time"

	"github.com/aristath/taskweave/internal/policy"
)

// MergePolicy says how a finished task branch reaches the base branch.
type MergePolicy string

const (
	MergePRonly    MergePolicy = "pr-only"
	MergeAutoMerge MergePolicy = "auto-merge"
)

// Strictness tunes how demanding a review is.
type Strictness string

const (
	StrictnessLenient Strictness = "lenient"
	StrictnessNormal  Strictness = "normal"
	StrictnessStrict  Strictness = "strict"
)

// Execution bounds how a task is run.
type Execution struct {
	MaxRetries      int  `json:"maxRetries"`
	EscalateOnRetry bool `json:"escalateOnRetry,omitempty"`
	TimeoutMinutes  int  `json:"timeoutMinutes"`
}

// Validation runs commands in the worktree after a successful execution.
type Validation struct {
	Enabled              bool   `json:"enabled"`
	Cmd                  string `json:"cmd,omitempty"`
	LintCmd              string `json:"lintCmd,omitempty"`
	StopOnFailure        bool   `json:"stopOnFailure,omitempty"`
	MaxValidationRetries int    `json:"maxValidationRetries"`
}

// Review asks an adapter to review the task diff before it is accepted.
type Review struct {
	Enabled      bool       `json:"enabled"`
	ReviewerTool string     `json:"reviewerTool,omitempty"`
	Strictness   Strictness `json:"strictness"`
	HumanGate    bool       `json:"humanGate,omitempty"`
	AutoFix      bool       `json:"autoFix,omitempty"`
}

// Task is a resolved task definition: run-level defaults are already applied.
type Task struct {
	ID             string          `json:"id"`
	Title          string          `json:"title"`
	Description    string          `json:"description,omitempty"`
	Repo           string          `json:"repo,omitempty"`
	Tool           string          `json:"tool,omitempty"`
	DependsOn      []string        `json:"dependsOn,omitempty"`
	MergePolicy    MergePolicy     `json:"mergePolicy"`
	CostTier       policy.CostTier `json:"costTier,omitempty"`
	ComplexityHint string          `json:"complexityHint,omitempty"`
	Priority       int             `json:"priority"`
	ContextFiles   []string        `json:"contextFiles,omitempty"`
	Execution      Execution       `json:"execution"`
	Validation     *Validation     `json:"validation,omitempty"`
	Review         Review          `json:"review"`
}

// Timeout returns the execution timeout, zero meaning none.
func (t Task) Timeout() time.Duration {
	return time.Duration(t.Execution.TimeoutMinutes) * time.Minute
}

// Attributes returns the model selection inputs of the task.
func (t Task) Attributes() policy.TaskAttributes {
	return policy.TaskAttributes{CostTier: t.CostTier, ComplexityHint: t.ComplexityHint}
}

// File is a parsed task definition file.
type File struct {
	Version            string      `json:"version"`
	Project            string      `json:"project,omitempty"`
	DefaultRepo        string      `json:"defaultRepo,omitempty"`
	DefaultTool        string      `json:"defaultTool,omitempty"`
	DefaultMergePolicy MergePolicy `json:"defaultMergePolicy"`
	Tasks              []Task      `json:"tasks"`
}
