package models

// ResourceDescriptor is a typed reference to a Resource plugin that must be
// ensured present on a worker before a task's executor starts.
type ResourceDescriptor struct {
	Kind   string          `json:"kind"`
	Config ResourceConfig  `json:"config"`
}

// ResourceConfig is the opaque-to-the-core, typed-per-kind config blob for a
// resource plugin. Concrete kinds live in internal/resource; this struct
// only carries the raw fields so pkg/models has no dependency on plugins.
type ResourceConfig struct {
	LocalPath         string `json:"local_path,omitempty"`
	RemoteURL         string `json:"remote_url,omitempty"`
	ExtractAfterFetch bool   `json:"extract_after_download,omitempty"`
}

// ExecutorDescriptor names the executor plugin a task runs under.
type ExecutorDescriptor struct {
	Name       string         `json:"name"`
	MinVersion string         `json:"min_version"`
	Config     ExecutorConfig `json:"config"`
}

// ExecutorConfig is the opaque-to-the-core config blob for an executor
// plugin. The one built-in kind is "shell".
type ExecutorConfig struct {
	WorkDir string   `json:"work_dir,omitempty"`
	Command []string `json:"command,omitempty"`
}

// TaskStruct is the immutable description of what a task runs: its
// resources and the executor that runs it.
type TaskStruct struct {
	Resources []ResourceDescriptor `json:"resources"`
	Executor  ExecutorDescriptor   `json:"executor"`
}

// ExtendedTask is one task within a GraphStruct.
type ExtendedTask struct {
	TaskName   string     `json:"task_name"`
	TaskStruct TaskStruct `json:"task_struct"`
	Hosts      []string   `json:"hosts"` // cluster labels
}

// GraphStruct is an immutable, revisioned DAG definition.
type GraphStruct struct {
	GraphName string                `json:"graph_name"`
	Revision  int                   `json:"revision"`
	Clusters  map[string][]string   `json:"clusters"` // cluster label -> host addresses
	Tasks     []ExtendedTask        `json:"tasks"`
	Deps      map[string][]string   `json:"deps"` // task_name -> task_names it depends on
}

// TaskByName returns the task with the given name, or nil.
func (g *GraphStruct) TaskByName(name string) *ExtendedTask {
	for i := range g.Tasks {
		if g.Tasks[i].TaskName == name {
			return &g.Tasks[i]
		}
	}
	return nil
}

// ResolveHosts expands a task's declared cluster labels into the flat,
// order-preserving list of host addresses it runs on.
func (g *GraphStruct) ResolveHosts(task *ExtendedTask) []string {
	var hosts []string
	for _, cluster := range task.Hosts {
		hosts = append(hosts, g.Clusters[cluster]...)
	}
	return hosts
}
