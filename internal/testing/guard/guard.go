// Package guard flips the binaries into test mode when imported for side effects.
package guard

import (
	"os"
	"sync"
)

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("COTA_TEST_MODE") == "" {
			_ = os.Setenv("COTA_TEST_MODE", "1")
		}
		if os.Getenv("LINK_SECRET") == "" {
			_ = os.Setenv("LINK_SECRET", "test-link-secret")
		}
	})
}
