package models

import "time"

// TaskOnHostExecutionInfo is the atomic unit of execution: one task of one
// instance running on one host.
type TaskOnHostExecutionInfo struct {
	TaskID string `json:"task_id,omitempty"` // worker-assigned opaque id, empty until created
	State  string `json:"state"`             // internal/state.TaskState tag
}

// TaskExecutionInfo is a task's execution state across every host it runs on.
type TaskExecutionInfo struct {
	PerHostInfo map[string]*TaskOnHostExecutionInfo `json:"per_host_info"`
	Dependents  []string                            `json:"dependents"` // precomputed reverse index of Deps
}

// GraphInstanceExecutionInfo is the mutable execution state of one instance.
type GraphInstanceExecutionInfo struct {
	State                string                         `json:"state"` // internal/state.GraphInstanceState tag
	StartTime            *time.Time                     `json:"start_time,omitempty"`
	FinishTime           *time.Time                     `json:"finish_time,omitempty"`
	FailMsg              string                          `json:"fail_msg,omitempty"`
	PerTaskExecutionInfo map[string]*TaskExecutionInfo  `json:"per_task_execution_info"`
}

// GraphInstanceInfo is one execution of a (graph_name, revision) pair.
type GraphInstanceInfo struct {
	InstanceID string                     `json:"instance_id"`
	Structure  GraphStruct                `json:"structure"` // frozen copy at launch time
	ExecStats  GraphInstanceExecutionInfo `json:"exec_stats"`
}

// InitPerTaskExecutionInfo seeds per_task_execution_info from Structure. It
// must run exactly once, at the idle -> running transition.
func (i *GraphInstanceInfo) InitPerTaskExecutionInfo() {
	dependents := make(map[string][]string, len(i.Structure.Tasks))
	for taskName, deps := range i.Structure.Deps {
		for _, dep := range deps {
			dependents[dep] = append(dependents[dep], taskName)
		}
	}

	info := make(map[string]*TaskExecutionInfo, len(i.Structure.Tasks))
	for _, task := range i.Structure.Tasks {
		perHost := make(map[string]*TaskOnHostExecutionInfo)
		for _, host := range i.Structure.ResolveHosts(&task) {
			perHost[host] = &TaskOnHostExecutionInfo{State: "idle"}
		}
		info[task.TaskName] = &TaskExecutionInfo{
			PerHostInfo: perHost,
			Dependents:  dependents[task.TaskName],
		}
	}
	i.ExecStats.PerTaskExecutionInfo = info
}
