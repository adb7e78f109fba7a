package connection

import "time"

// Timer is a handle to a delayed task.
type Timer interface {
	// Stop cancels the task. It returns false if the task already ran or was stopped.
	Stop() bool
}

// Scheduler runs tasks after a delay. The client routes its reconnect and
// heartbeat timers through it so tests can drive time by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

// SystemScheduler schedules tasks on the runtime timer heap.
type SystemScheduler struct{}

// AfterFunc runs f in its own goroutine after d.
func (SystemScheduler) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
