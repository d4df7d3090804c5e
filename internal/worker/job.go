package worker

type JobType string

const (
	Run  JobType = "run"
	Stop JobType = "stop"
)

// Job is one unit of work for a user. Jobs of the same user run one at a
// time, in submission order.
type Job struct {
	Type   JobType
	UserID int64
	Name   string
	Fn     func()

	seq uint64 // submission order across all users
}
