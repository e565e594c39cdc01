package supervisor

import "context"

// waiter is a one-shot channel-based future: the first resolve() or
// reject() wins. The channel buffers that one result and later sends fall
// through the select's default, so a send never blocks, even when no one
// is waiting any more.
type waiter struct {
	resultCh chan waiterResult
}

type waiterResult struct {
	value string
	err   error
}

func newWaiter() *waiter {
	return &waiter{resultCh: make(chan waiterResult, 1)}
}

func (w *waiter) resolve(value string) {
	select {
	case w.resultCh <- waiterResult{value: value}:
	default:
	}
}

func (w *waiter) reject(err error) {
	select {
	case w.resultCh <- waiterResult{err: err}:
	default:
	}
}

// wait blocks until resolve/reject fires or ctx's deadline elapses.
func (w *waiter) wait(ctx context.Context) (string, error) {
	select {
	case result := <-w.resultCh:
		return result.value, result.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
