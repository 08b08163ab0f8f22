package taskfile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aristath/taskweave/internal/errcode"
	"github.com/aristath/taskweave/internal/policy"
)

var (
	ErrInvalidFile     = errcode.New("E7001", "invalid task file")
	ErrDuplicateTaskID = errcode.New("E1002", "duplicate task id")
)

// ValidationError collects every problem found in a task file.
type ValidationError struct {
	Kind     error
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind.Error(), strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error { return e.Kind }

type rawFile struct {
	Version            string    `yaml:"version"`
	Project            string    `yaml:"project"`
	DefaultRepo        string    `yaml:"defaultRepo"`
	DefaultTool        string    `yaml:"defaultTool"`
	DefaultMergePolicy string    `yaml:"defaultMergePolicy"`
	Tasks              []rawTask `yaml:"tasks"`
}

type rawTask struct {
	ID             string         `yaml:"id"`
	Title          string         `yaml:"title"`
	Description    string         `yaml:"description"`
	Repo           string         `yaml:"repo"`
	Tool           string         `yaml:"tool"`
	DependsOn      []string       `yaml:"dependsOn"`
	MergePolicy    string         `yaml:"mergePolicy"`
	CostTier       string         `yaml:"costTier"`
	ComplexityHint string         `yaml:"complexityHint"`
	Priority       *int           `yaml:"priority"`
	ContextFiles   []string       `yaml:"contextFiles"`
	Execution      *rawExecution  `yaml:"execution"`
	Validation     *rawValidation `yaml:"validation"`
	Review         *rawReview     `yaml:"review"`
}

type rawExecution struct {
	MaxRetries      *int `yaml:"maxRetries"`
	EscalateOnRetry bool `yaml:"escalateOnRetry"`
	TimeoutMinutes  *int `yaml:"timeoutMinutes"`
}

type rawValidation struct {
	Enabled              *bool  `yaml:"enabled"`
	Cmd                  string `yaml:"cmd"`
	LintCmd              string `yaml:"lintCmd"`
	StopOnFailure        bool   `yaml:"stopOnFailure"`
	MaxValidationRetries *int   `yaml:"maxValidationRetries"`
}

type rawReview struct {
	Enabled      *bool  `yaml:"enabled"`
	ReviewerTool string `yaml:"reviewerTool"`
	Strictness   string `yaml:"strictness"`
	HumanGate    bool   `yaml:"humanGate"`
	AutoFix      bool   `yaml:"autoFix"`
}

// Load reads and parses the task file at path.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a task file, validates its fields, applies defaults and
// rejects duplicate task IDs. Dependency references are not resolved here.
func Parse(data []byte) (*File, error) {
	var raw rawFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %v", ErrInvalidFile, err)
	}

	if problems := raw.validate(); len(problems) > 0 {
		return nil, &ValidationError{Kind: ErrInvalidFile, Problems: problems}
	}

	file := raw.resolve()
	if problems := duplicateIDs(file.Tasks); len(problems) > 0 {
		return nil, &ValidationError{Kind: ErrDuplicateTaskID, Problems: problems}
	}
	return file, nil
}

func (r rawFile) validate() []string {
	var problems []string
	if strings.TrimSpace(r.Project) == "" {
		problems = append(problems, "project: required")
	}
	if len(r.Tasks) == 0 {
		problems = append(problems, "tasks: at least one task is required")
	}
	if !validMergePolicy(r.DefaultMergePolicy) {
		problems = append(problems, fmt.Sprintf("defaultMergePolicy: invalid value %q", r.DefaultMergePolicy))
	}

	for i, t := range r.Tasks {
		at := fmt.Sprintf("tasks[%d]", i)
		if t.ID == "" {
			problems = append(problems, at+".id: required")
		}
		if t.Title == "" {
			problems = append(problems, at+".title: required")
		}
		if !validMergePolicy(t.MergePolicy) {
			problems = append(problems, fmt.Sprintf("%s.mergePolicy: invalid value %q", at, t.MergePolicy))
		}
		if !policy.CostTier(t.CostTier).Valid() {
			problems = append(problems, fmt.Sprintf("%s.costTier: invalid value %q", at, t.CostTier))
		}
		if t.Execution != nil {
			if t.Execution.MaxRetries != nil && *t.Execution.MaxRetries < 0 {
				problems = append(problems, at+".execution.maxRetries: must not be negative")
			}
			if t.Execution.TimeoutMinutes != nil && *t.Execution.TimeoutMinutes < 0 {
				problems = append(problems, at+".execution.timeoutMinutes: must not be negative")
			}
		}
		if v := t.Validation; v != nil && (v.Enabled == nil || *v.Enabled) && strings.TrimSpace(v.Cmd) == "" {
			problems = append(problems, at+".validation.cmd: required when validation is enabled")
		}
		if t.Review != nil && !validStrictness(t.Review.Strictness) {
			problems = append(problems, fmt.Sprintf("%s.review.strictness: invalid value %q", at, t.Review.Strictness))
		}
	}
	return problems
}

func (r rawFile) resolve() *File {
	file := &File{
		Version:            r.Version,
		Project:            r.Project,
		DefaultRepo:        r.DefaultRepo,
		DefaultTool:        r.DefaultTool,
		DefaultMergePolicy: MergePolicy(r.DefaultMergePolicy),
		Tasks:              make([]Task, 0, len(r.Tasks)),
	}
	if file.Version == "" {
		file.Version = "1.0"
	}
	if file.DefaultMergePolicy == "" {
		file.DefaultMergePolicy = MergePRonly
	}

	for _, rt := range r.Tasks {
		t := Task{
			ID:             rt.ID,
			Title:          rt.Title,
			Description:    rt.Description,
			Repo:           or(rt.Repo, file.DefaultRepo),
			Tool:           or(rt.Tool, file.DefaultTool),
			DependsOn:      rt.DependsOn,
			MergePolicy:    MergePolicy(or(rt.MergePolicy, string(file.DefaultMergePolicy))),
			CostTier:       policy.CostTier(rt.CostTier),
			ComplexityHint: rt.ComplexityHint,
			Priority:       1,
			ContextFiles:   rt.ContextFiles,
			Execution:      Execution{MaxRetries: 1, TimeoutMinutes: 30},
			Review:         Review{Enabled: true, Strictness: StrictnessNormal},
		}
		if rt.Priority != nil {
			t.Priority = *rt.Priority
		}
		if e := rt.Execution; e != nil {
			t.Execution.EscalateOnRetry = e.EscalateOnRetry
			if e.MaxRetries != nil {
				t.Execution.MaxRetries = *e.MaxRetries
			}
			if e.TimeoutMinutes != nil {
				t.Execution.TimeoutMinutes = *e.TimeoutMinutes
			}
		}
		if v := rt.Validation; v != nil {
			t.Validation = &Validation{
				Enabled:              v.Enabled == nil || *v.Enabled,
				Cmd:                  v.Cmd,
				LintCmd:              v.LintCmd,
				StopOnFailure:        v.StopOnFailure,
				MaxValidationRetries: 2,
			}
			if v.MaxValidationRetries != nil {
				t.Validation.MaxValidationRetries = *v.MaxValidationRetries
			}
		}
		if rv := rt.Review; rv != nil {
			t.Review = Review{
				Enabled:      rv.Enabled == nil || *rv.Enabled,
				ReviewerTool: rv.ReviewerTool,
				Strictness:   Strictness(or(rv.Strictness, string(StrictnessNormal))),
				HumanGate:    rv.HumanGate,
				AutoFix:      rv.AutoFix,
			}
		}
		file.Tasks = append(file.Tasks, t)
	}
	return file
}

func duplicateIDs(tasks []Task) []string {
	var problems []string
	seen := make(map[string]bool, len(tasks))
	for i, t := range tasks {
		if seen[t.ID] {
			problems = append(problems, fmt.Sprintf("tasks[%d].id: duplicate task ID %q", i, t.ID))
			continue
		}
		seen[t.ID] = true
	}
	return problems
}

func validMergePolicy(s string) bool {
	switch MergePolicy(s) {
	case "", MergePRonly, MergeAutoMerge:
		return true
	}
	return false
}

func validStrictness(s string) bool {
	switch Strictness(s) {
	case "", StrictnessLenient, StrictnessNormal, StrictnessStrict:
		return true
	}
	return false
}

func or(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
