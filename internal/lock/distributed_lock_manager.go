package lock

import "context"

// DistributedLockManager serializes cluster-wide activities (migrations,
// scheduling-loop leadership) across scheduler instances.
type DistributedLockManager interface {
	Acquire(ctx context.Context, lockID int) error
	TryAcquire(ctx context.Context, lockID int) (bool, error)
	Release(ctx context.Context, lockID int) error
}
