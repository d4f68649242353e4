// Package testutil provides shared test doubles and helpers.
package testutil

import (
	"os"
	"testing"
	"time"

	"github.com/shaban/fxhost/plugins"
)

// SkipUnlessEnv skips the test unless the given env var equals the wanted value.
func SkipUnlessEnv(t *testing.T, key, want string) {
	t.Helper()
	if os.Getenv(key) != want {
		t.Skipf("skipped: set %s=%s to run", key, want)
	}
}

// IsCI reports whether running under common CI environments.
func IsCI() bool {
	if os.Getenv("CI") == "true" || os.Getenv("GITHUB_ACTIONS") == "true" {
		return true
	}
	return false
}

// Test audio format, small enough to keep prepare cheap.
const (
	SampleRate = 48000.0
	BlockSize  = 256
)

// Desc returns a descriptor of format for a fake plugin called name.
func Desc(format plugins.Format, name string, inputs, outputs int) plugins.Descriptor {
	return plugins.Descriptor{
		Format:           format,
		FileOrIdentifier: "/fake/" + name,
		Name:             name,
		Vendor:           "Test",
		Version:          "1.0",
		NumInputs:        inputs,
		NumOutputs:       outputs,
	}
}

// Stereo returns a two-in two-out fake VST3 descriptor.
func Stereo(name string) plugins.Descriptor {
	return Desc(plugins.FormatVST3, name, 2, 2)
}

// WaitFor polls cond until it holds or timeout elapses.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s: %s", timeout, msg)
}
