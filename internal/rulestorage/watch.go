package rulestorage

import (
	"log"
	"os"
	"time"
)

// Reloader is the narrow callback WatchFile needs; *engine.AnalyzerEngine
// satisfies it.
type Reloader interface {
	ReloadRules(programName string) error
}

// WatchFile polls path's mtime every interval and, on change, calls
// reloader.ReloadRules for every program name returned by programs().
// This is purely additive glue outside the core's own reload operation:
// the core only defines what reloadRules(programName) does, not how or
// when it gets invoked from a file change.
func WatchFile(path string, interval time.Duration, reloader Reloader, programs func() []string, stop <-chan struct{}) {
	var lastMod time.Time
	if fi, err := os.Stat(path); err == nil {
		lastMod = fi.ModTime()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			fi, err := os.Stat(path)
			if err != nil {
				log.Printf("[rulestorage] watch %s: %v", path, err)
				continue
			}
			if !fi.ModTime().After(lastMod) {
				continue
			}
			lastMod = fi.ModTime()
			for _, program := range programs() {
				if err := reloader.ReloadRules(program); err != nil {
					log.Printf("[rulestorage] reload %q after file change: %v", program, err)
				}
			}
		}
	}
}
