package models

import "time"

// TaskExecStats is the worker-side mutable execution state of a TaskInfo.
type TaskExecStats struct {
	State       string     `json:"state"` // internal/state.TaskState tag
	Retcode     *int       `json:"retcode,omitempty"`
	PrepStart   *time.Time `json:"prep_start,omitempty"`
	PrepFinish  *time.Time `json:"prep_finish,omitempty"`
	Start       *time.Time `json:"start,omitempty"`
	Finish      *time.Time `json:"finish,omitempty"`
	PrepMsg     string     `json:"prep_msg,omitempty"`
}

// TaskInfo is the worker's persisted record of one task.
type TaskInfo struct {
	TaskID    string        `json:"task_id"`
	Structure TaskStruct    `json:"structure"`
	ExecStats TaskExecStats `json:"exec_stats"`
}

// ScheduledGraph is the persisted state of one cron-scheduled graph.
type ScheduledGraph struct {
	GraphName string     `json:"graph_name"`
	CronExpr  string     `json:"cron_expr"`
	Enabled   bool       `json:"enabled"`
	NextRun   *time.Time `json:"next_run,omitempty"`
}
