package signaling

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain verifies no goroutines leak across the package's tests. The
// dispatcher is the only goroutine the package starts, and it must exit
// when its context is cancelled.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
