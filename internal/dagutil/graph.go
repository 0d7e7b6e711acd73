// Package dagutil validates a GraphStruct's dependency graph: duplicate task
// names, unknown clusters/dependencies, and dependency cycles. It is the
// "dependency-cycle detector" collaborator named in spec.md §1.
package dagutil

import (
	"fmt"

	"github.com/luckygeck/dedalus/pkg/models"
)

// Verify checks the invariants spec.md §3 requires of a GraphStruct before
// it may be accepted by add_graph_struct: unique task names, deps/hosts
// referencing only tasks/clusters that exist, and an acyclic deps graph.
func Verify(g *models.GraphStruct) error {
	seen := make(map[string]bool, len(g.Tasks))
	for _, task := range g.Tasks {
		if seen[task.TaskName] {
			return fmt.Errorf("duplicate task name: %s", task.TaskName)
		}
		seen[task.TaskName] = true
	}

	for _, task := range g.Tasks {
		for _, cluster := range task.Hosts {
			if _, ok := g.Clusters[cluster]; !ok {
				return fmt.Errorf("task %s references unknown cluster: %s", task.TaskName, cluster)
			}
		}
	}

	for taskName, deps := range g.Deps {
		if !seen[taskName] {
			return fmt.Errorf("deps references unknown task: %s", taskName)
		}
		for _, dep := range deps {
			if !seen[dep] {
				return fmt.Errorf("task %s depends on unknown task: %s", taskName, dep)
			}
		}
	}

	if err := detectCycle(g); err != nil {
		return err
	}

	return nil
}

// detectCycle runs a 3-color DFS over g.Deps.
func detectCycle(g *models.GraphStruct) error {
	const (
		unvisited = 0
		visiting  = 1
		visited   = 2
	)
	state := make(map[string]int, len(g.Tasks))

	var dfs func(string) error
	dfs = func(taskName string) error {
		switch state[taskName] {
		case visiting:
			return fmt.Errorf("cycle detected involving task: %s", taskName)
		case visited:
			return nil
		}

		state[taskName] = visiting
		for _, dep := range g.Deps[taskName] {
			if err := dfs(dep); err != nil {
				return err
			}
		}
		state[taskName] = visited
		return nil
	}

	for _, task := range g.Tasks {
		if state[task.TaskName] == unvisited {
			if err := dfs(task.TaskName); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns task names in topological order (Kahn's
// algorithm). The CLI does not call it; it is exercised by the dagutil
// tests.
func TopologicalOrder(g *models.GraphStruct) ([]string, error) {
	adjList := make(map[string][]string)
	inDegree := make(map[string]int, len(g.Tasks))

	for _, task := range g.Tasks {
		inDegree[task.TaskName] = len(g.Deps[task.TaskName])
	}
	for taskName, deps := range g.Deps {
		for _, dep := range deps {
			adjList[dep] = append(adjList[dep], taskName)
		}
	}

	var queue []string
	for _, task := range g.Tasks {
		if inDegree[task.TaskName] == 0 {
			queue = append(queue, task.TaskName)
		}
	}

	var result []string
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		result = append(result, name)

		for _, next := range adjList[name] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(result) != len(g.Tasks) {
		return nil, fmt.Errorf("cycle detected in graph %s", g.GraphName)
	}
	return result, nil
}

// ImmediateDependents returns, for each task, the task names that directly
// depend on it — the inverse of g.Deps. This is the same computation
// models.GraphInstanceInfo.InitPerTaskExecutionInfo performs inline; exposed
// here too so the dagutil tests can exercise it standalone.
func ImmediateDependents(g *models.GraphStruct) map[string][]string {
	dependents := make(map[string][]string, len(g.Tasks))
	for taskName, deps := range g.Deps {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], taskName)
		}
	}
	return dependents
}
