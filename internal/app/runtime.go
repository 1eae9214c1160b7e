package app

import (
	"os"
	"sync"
	"sync/atomic"
)

const testModeEnv = "COTA_TEST_MODE"

var (
	testModeFlag atomic.Bool
	testModeOnce sync.Once
)

func detectTestMode() {
	testModeFlag.Store(os.Getenv(testModeEnv) == "1")
}

// InTestMode reports whether binaries should return before touching Postgres, Redis or SMTP.
func InTestMode() bool {
	testModeOnce.Do(detectTestMode)
	return testModeFlag.Load()
}

// RefreshTestMode re-reads COTA_TEST_MODE after the environment changed.
func RefreshTestMode() {
	detectTestMode()
}
