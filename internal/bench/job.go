package bench

import "time"

// Kind 任务类型
type Kind string

const (
	KindReadout  Kind = "readout"
	KindExposure Kind = "exposure"
)

// Status 任务状态
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Done 是否已结束
func (s Status) Done() bool { return s != StatusRunning }

// Job 任务快照
type Job struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Status     Status     `json:"status"`
	Step       string     `json:"step,omitempty"`
	Percent    float64    `json:"percent"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Result     any        `json:"result,omitempty"`
}

// ReadoutResult 读出结果摘要，帧本体通过 LatestFrame 获取
type ReadoutResult struct {
	Bytes int `json:"bytes"`
}
