package utils

import "time"

// Notifier wakes every goroutine waiting on it at once by closing the
// current channel and replacing it with a fresh one.
//
// It carries no lock of its own: Wait and Broadcast must be called while
// holding the mutex that guards the condition being waited for.
type Notifier struct {
	ch chan struct{}
}

func NewNotifier() Notifier {
	return Notifier{ch: make(chan struct{})}
}

func (n *Notifier) Wait() <-chan struct{} {
	return n.ch
}

func (n *Notifier) Broadcast() {
	close(n.ch)
	n.ch = make(chan struct{})
}

// Locker is satisfied by *sync.Mutex.
type Locker interface {
	Lock()
	Unlock()
}

// WaitUntil blocks until ready() reports true or the deadline passes.
// mu must be held on entry; it is released while sleeping and held again
// on return. The result reports whether ready() held before the deadline.
func WaitUntil(mu Locker, n *Notifier, deadline time.Time, ready func() bool) bool {
	if ready() {
		return true
	}

	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	for {
		wakeup := n.Wait()
		mu.Unlock()

		timedOut := false
		select {
		case <-wakeup:
		case <-timer.C:
			timedOut = true
		}

		mu.Lock()
		if ready() {
			return true
		}
		if timedOut {
			return false
		}
	}
}
