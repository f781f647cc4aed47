// Package task implements SyncTask, the spec's second task shape (§3): a
// body that runs to completion without ever suspending, but which may
// still install a CancelToken for the duration of a cooperative
// checkpoint so a concurrent interrupt() has somewhere to go.
package task

import (
	"github.com/ringrt/ringrt/future"
	"github.com/ringrt/ringrt/request"
)

// Canceller is the narrow interface a SyncTask body uses to expose a
// cancellation hook around a cooperative checkpoint. It is implemented by
// *pctx.Context; defined here so that this package does not import
// pctx.
type Canceller interface {
	SetCancelToken(future.CancelToken)
	ClearCancelToken()
}

// SyncTask wraps a body that runs to completion inline. Run receives the
// Canceller for the worker it is executing on; if some part of the body
// is a checkpoint that should be interruptible, it calls
// c.SetCancelToken before the checkpoint and c.ClearCancelToken after.
type SyncTask[T any] struct {
	Run func(c Canceller) T
}

// New builds a SyncTask from a plain function.
func New[T any](run func(c Canceller) T) SyncTask[T] {
	return SyncTask[T]{Run: run}
}

// AsFuture adapts a SyncTask into a future.Future that always completes
// synchronously. SyncTask is deliberately not itself a future.Future:
// Start would always return Done, so modeling it as a plain struct with
// a Run method avoids allocating a Request for work that is known in
// advance never to suspend. AsFuture exists so SyncTask values can still
// compose with the scheduler combinators (spawn/join/select), which are
// built uniformly on top of future.Future.
func (t SyncTask[T]) AsFuture(c Canceller) future.Future[T] {
	return future.Func[T](func(req *request.Request[T]) future.Progress[T] {
		return future.Done(t.Run(c))
	})
}
