//go:build !unix

package main

import "os"

// notifyPause returns a channel that never fires; there is no pause
// signal on this platform.
func notifyPause() chan os.Signal { return make(chan os.Signal) }

func stopPause(chan os.Signal) {}
