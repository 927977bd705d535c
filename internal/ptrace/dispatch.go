package ptrace

import "runtime"

// ptrace(2) requires every call after PTRACE_ATTACH for a given tracee to
// come from the same OS thread that issued the attach. We dedicate one
// goroutine, pinned with LockOSThread, to every ptrace call this package
// makes and funnel all requests through it.
var (
	reqCh  = make(chan func())
	doneCh = make(chan struct{})
)

func init() {
	go dispatchLoop()
}

func dispatchLoop() {
	runtime.LockOSThread()
	for fn := range reqCh {
		fn()
		doneCh <- struct{}{}
	}
}

func onPtraceThread(fn func()) {
	reqCh <- fn
	<-doneCh
}
