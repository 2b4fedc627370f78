package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "CALYX_TEST_MODE"

var testMode struct {
	once sync.Once
	flag atomic.Bool
}

// InTestMode reports whether runtime side effects (server, worker)
// should be skipped. Read once from CALYX_TEST_MODE.
func InTestMode() bool {
	testMode.once.Do(RefreshTestMode)
	return testMode.flag.Load()
}

// RefreshTestMode re-reads the flag after environment changes.
func RefreshTestMode() {
	testMode.flag.Store(os.Getenv(testModeEnv) == "1")
}
