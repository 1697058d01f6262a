package models

import (
	"time"
)

// Outcome 一次同步的终态
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeMissingRuleID   Outcome = "missing_rule_id"
	OutcomeFetchFailed     Outcome = "fetch_failed"
	OutcomeUpdateFailed    Outcome = "update_failed"
	OutcomeEmptyResolution Outcome = "empty_resolution"
	OutcomeUnauthorized    Outcome = "unauthorized"
	OutcomeForbidden       Outcome = "forbidden"
	OutcomeNetworkError    Outcome = "network_error"
	OutcomeLocked          Outcome = "locked"
)

// Outcomes 所有终态，用于指标初始化
var Outcomes = []Outcome{
	OutcomeSuccess,
	OutcomeMissingRuleID,
	OutcomeFetchFailed,
	OutcomeUpdateFailed,
	OutcomeEmptyResolution,
	OutcomeUnauthorized,
	OutcomeForbidden,
	OutcomeNetworkError,
	OutcomeLocked,
}

// Succeeded 是否成功更新了远端规则
func (o Outcome) Succeeded() bool {
	return o == OutcomeSuccess
}

// SyncTask 同步任务
type SyncTask struct {
	TaskId      string    `json:"task_id"`
	Strategy    string    `json:"strategy,omitempty"` // filter_rule, ruleset
	Outcome     Outcome   `json:"outcome"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Hostname    string    `json:"hostname"`
	IPv4        []string  `json:"ipv4"`
	IPv6        []string  `json:"ipv6"`
	FailedHosts []string  `json:"failed_hosts,omitempty"`
	Expression  string    `json:"expression,omitempty"`
	FilterId    string    `json:"filter_id,omitempty"`
	ErrorMsg    string    `json:"error_msg,omitempty"`
}

// Duration 任务耗时
func (t *SyncTask) Duration() time.Duration {
	if t.EndTime.IsZero() {
		return 0
	}
	return t.EndTime.Sub(t.StartTime)
}
