package dag

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/gammazero/toposort"
)

func TestBuild(t *testing.T) {
	tests := []struct {
		name        string
		specs       []Spec
		wantErr     error
		errContains string
	}{
		{
			name:  "linear chain",
			specs: []Spec{{ID: "A"}, {ID: "B", DependsOn: []string{"A"}}, {ID: "C", DependsOn: []string{"B"}}},
		},
		{
			name:  "diamond",
			specs: []Spec{{ID: "A"}, {ID: "B", DependsOn: []string{"A"}}, {ID: "C", DependsOn: []string{"A"}}, {ID: "D", DependsOn: []string{"B", "C"}}},
		},
		{
			name:        "missing dependency",
			specs:       []Spec{{ID: "A", DependsOn: []string{"ghost"}}},
			wantErr:     ErrDependencyNotFound,
			errContains: `"ghost"`,
		},
		{
			name:    "duplicate id",
			specs:   []Spec{{ID: "A"}, {ID: "A"}},
			wantErr: ErrDuplicateNode,
		},
		{
			name:        "transitive cycle",
			specs:       []Spec{{ID: "A", DependsOn: []string{"B"}}, {ID: "B", DependsOn: []string{"C"}}, {ID: "C", DependsOn: []string{"A"}}},
			wantErr:     ErrCycleDetected,
			errContains: "A -> B -> C -> A",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.specs)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Build() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build() error = %v, want %v", err, tt.wantErr)
			}
			if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.errContains)
			}
		})
	}
}

func TestBuildDependencyNotFoundDetails(t *testing.T) {
	_, err := Build([]Spec{{ID: "A"}, {ID: "B", DependsOn: []string{"A", "missing"}}})

	var depErr *DependencyNotFoundError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected *DependencyNotFoundError, got %T: %v", err, err)
	}
	if depErr.TaskID != "B" || depErr.MissingID != "missing" {
		t.Errorf("got task=%q missing=%q, want B/missing", depErr.TaskID, depErr.MissingID)
	}
}

func TestCyclePaths(t *testing.T) {
	tests := []struct {
		name  string
		specs []Spec
		want  []string
	}{
		{
			name:  "self dependency",
			specs: []Spec{{ID: "A", DependsOn: []string{"A"}}},
			want:  []string{"A"},
		},
		{
			name:  "mutual dependency",
			specs: []Spec{{ID: "A", DependsOn: []string{"B"}}, {ID: "B", DependsOn: []string{"A"}}},
			want:  []string{"A", "B"},
		},
		{
			name: "cycle reached from an acyclic prefix",
			specs: []Spec{
				{ID: "root", DependsOn: []string{"X"}},
				{ID: "X", DependsOn: []string{"Y"}},
				{ID: "Y", DependsOn: []string{"Z"}},
				{ID: "Z", DependsOn: []string{"X"}},
			},
			want: []string{"X", "Y", "Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.specs)
			var cycleErr *CycleError
			if !errors.As(err, &cycleErr) {
				t.Fatalf("expected *CycleError, got %v", err)
			}
			if !reflect.DeepEqual(cycleErr.Path, tt.want) {
				t.Errorf("cycle path = %v, want %v", cycleErr.Path, tt.want)
			}
		})
	}
}

func TestDependentsAreBidirectional(t *testing.T) {
	g, err := Build([]Spec{{ID: "A"}, {ID: "B", DependsOn: []string{"A"}}, {ID: "C", DependsOn: []string{"A", "B"}}})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	for _, id := range g.IDs() {
		node, _ := g.Node(id)
		for _, dep := range node.Dependencies {
			depNode, _ := g.Node(dep)
			if !contains(depNode.Dependents, id) {
				t.Errorf("%s lists %s as dependency but %s.Dependents = %v", id, dep, dep, depNode.Dependents)
			}
		}
		for _, dependent := range node.Dependents {
			dn, _ := g.Node(dependent)
			if !contains(dn.Dependencies, id) {
				t.Errorf("%s lists %s as dependent but %s.Dependencies = %v", id, dependent, dependent, dn.Dependencies)
			}
		}
	}
}

func TestTopologicalSort(t *testing.T) {
	g, err := Build([]Spec{
		{ID: "D", DependsOn: []string{"B", "C"}},
		{ID: "B", DependsOn: []string{"A"}},
		{ID: "A"},
		{ID: "C", DependsOn: []string{"A"}},
	})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	got := g.TopologicalSort()
	want := []string{"A", "B", "C", "D"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopologicalSort() = %v, want %v", got, want)
	}
}

// TestRandomGraphsAgainstToposort checks cycle verdicts against an
// independent implementation and the ordering property on acyclic graphs.
func TestRandomGraphsAgainstToposort(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for iter := 0; iter < 200; iter++ {
		n := 2 + rng.Intn(8)
		specs := make([]Spec, n)
		var edges []toposort.Edge
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("t%d", i)
			specs[i].ID = id
			edges = append(edges, toposort.Edge{nil, id})
			for j := 0; j < n; j++ {
				if i != j && rng.Intn(4) == 0 {
					dep := fmt.Sprintf("t%d", j)
					specs[i].DependsOn = append(specs[i].DependsOn, dep)
					edges = append(edges, toposort.Edge{dep, id})
				}
			}
		}

		g, err := Build(specs)
		_, oracleErr := toposort.Toposort(edges)

		if (err != nil) != (oracleErr != nil) {
			t.Fatalf("iteration %d: Build error = %v, toposort error = %v", iter, err, oracleErr)
		}
		if err != nil {
			if !errors.Is(err, ErrCycleDetected) {
				t.Fatalf("iteration %d: expected cycle error, got %v", iter, err)
			}
			continue
		}

		order := g.TopologicalSort()
		if len(order) != n {
			t.Fatalf("iteration %d: order has %d tasks, want %d", iter, len(order), n)
		}
		pos := make(map[string]int, n)
		for i, id := range order {
			pos[id] = i
		}
		for _, s := range specs {
			for _, dep := range s.DependsOn {
				if pos[dep] >= pos[s.ID] {
					t.Fatalf("iteration %d: %s ordered before its dependency %s", iter, s.ID, dep)
				}
			}
		}
	}
}

func TestReadyTasks(t *testing.T) {
	g, err := Build([]Spec{{ID: "A"}, {ID: "B", DependsOn: []string{"A"}}, {ID: "C", DependsOn: []string{"A", "B"}}, {ID: "D"}})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	tests := []struct {
		completed map[string]bool
		want      []string
	}{
		{completed: map[string]bool{}, want: []string{"A", "D"}},
		{completed: map[string]bool{"A": true}, want: []string{"B", "D"}},
		{completed: map[string]bool{"A": true, "B": true, "D": true}, want: []string{"C"}},
		{completed: map[string]bool{"A": true, "B": true, "C": true, "D": true}, want: nil},
	}

	for _, tt := range tests {
		got := ReadyTasks(g, tt.completed)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("ReadyTasks(%v) = %v, want %v", tt.completed, got, tt.want)
		}
		again := ReadyTasks(g, tt.completed)
		if !reflect.DeepEqual(got, again) {
			t.Errorf("ReadyTasks is not idempotent: %v then %v", got, again)
		}
	}
}

func TestReadyTasksMonotonic(t *testing.T) {
	g, err := Build([]Spec{{ID: "A"}, {ID: "B", DependsOn: []string{"A"}}, {ID: "C"}})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	base := map[string]bool{"A": true}
	if !contains(ReadyTasks(g, base), "B") {
		t.Fatalf("B should be ready once A completed")
	}
	superset := map[string]bool{"A": true, "C": true}
	if !contains(ReadyTasks(g, superset), "B") {
		t.Errorf("B should stay ready for a superset of completed tasks")
	}
}

func TestMermaid(t *testing.T) {
	g, err := Build([]Spec{{ID: "A"}, {ID: "B", DependsOn: []string{"A"}}, {ID: "solo"}})
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}

	want := "graph TD\n    A --> B\n    solo\n"
	if got := Mermaid(g); got != want {
		t.Errorf("Mermaid() = %q, want %q", got, want)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
