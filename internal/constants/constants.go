package constants

const (
	MigrationLock = iota
	SchedulingLoopLock
)

var Locks = []int{
	MigrationLock,
	SchedulingLoopLock,
}

const (
	DefaultTickSeconds         = 1
	DefaultMisfireGraceSeconds = 30
	DefaultWorkerCount         = 10
	DefaultEventBufferSize     = 1024
)
