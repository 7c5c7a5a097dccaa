package engine

import "errors"

// EngineNotRunning is returned by Enqueue when the engine is not
// currently Running.
var EngineNotRunning = errors.New("engine: not running")

// ErrNotStopped is returned by Start when the engine is not Stopped.
var ErrNotStopped = errors.New("engine: start called while not Stopped")
