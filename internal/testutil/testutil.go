// Package testutil holds shared graph/task struct builders for tests,
// grounded in the teacher's testutil.go CreateTestDAG/CreateTestDAGWithDependencies
// idiom and generalized from models.DAG/models.Task to Dedalus's
// models.GraphStruct/models.TaskStruct shapes.
package testutil

import "github.com/luckygeck/dedalus/pkg/models"

// ShellTask builds a single-host shell task named name running cmd on
// cluster label host.
func ShellTask(name, host, cmd string) models.ExtendedTask {
	return models.ExtendedTask{
		TaskName: name,
		Hosts:    []string{host},
		TaskStruct: models.TaskStruct{
			Executor: models.ExecutorDescriptor{
				Name: "shell",
				Config: models.ExecutorConfig{
					Command: []string{"/bin/sh", "-c", cmd},
				},
			},
		},
	}
}

// SingleShellTaskGraph builds a one-task graph named name on cluster "c1".
func SingleShellTaskGraph(name string) models.GraphStruct {
	return models.GraphStruct{
		GraphName: name,
		Clusters:  map[string][]string{"c1": {"host-a"}},
		Tasks:     []models.ExtendedTask{ShellTask("a", "c1", "echo a")},
	}
}

// DiamondShellTaskGraph builds a four-task diamond graph (a -> {b,c} -> d)
// on a single cluster, grounded in CreateTestDAGWithDependencies.
func DiamondShellTaskGraph(name string) models.GraphStruct {
	return models.GraphStruct{
		GraphName: name,
		Clusters:  map[string][]string{"c1": {"host-a"}},
		Tasks: []models.ExtendedTask{
			ShellTask("a", "c1", "echo a"),
			ShellTask("b", "c1", "echo b"),
			ShellTask("c", "c1", "echo c"),
			ShellTask("d", "c1", "echo d"),
		},
		Deps: map[string][]string{
			"b": {"a"},
			"c": {"a"},
			"d": {"b", "c"},
		},
	}
}
