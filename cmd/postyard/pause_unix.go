//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// notifyPause delivers SIGUSR1, which toggles pause during a run.
func notifyPause() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	return ch
}

func stopPause(ch chan os.Signal) { signal.Stop(ch) }
