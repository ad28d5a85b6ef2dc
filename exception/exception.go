package exception

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/mezonai/mmn-plasma/logx"
	"github.com/mezonai/mmn-plasma/monitoring"
)

func SafeGo(name string, fn func()) {
	SafeGoWithRecover(name, fn, nil)
}

// SafeGoWithRecover runs fn in a goroutine; a panic is logged, counted and
// handed to onPanic instead of crashing the process
func SafeGoWithRecover(name string, fn func(), onPanic func(recovered interface{})) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", fmt.Sprintf("panic in %s: %v\n%s", name, r, debug.Stack()))
				if onPanic != nil {
					onPanic(r)
				}
			}
		}()
		fn()
	}()
}

// exit is swapped out by tests
var exit = os.Exit

// SafeGoWithPanic is for goroutines the process cannot run without: a panic
// is logged and counted, then the process exits
func SafeGoWithPanic(name string, fn func()) {
	SafeGoWithRecover(name, fn, func(interface{}) { exit(1) })
}
