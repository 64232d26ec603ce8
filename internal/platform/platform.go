// Package platform describes the host the agent drives. Init must be called
// explicitly once at startup; importing the package has no side effects.
package platform

import (
	"os"
	"os/exec"
	"runtime"
	"sync"
)

// EventSourceEnv selects the input event source used by the python helpers.
const EventSourceEnv = "DESKTOP_ASSIST_EVENT_SOURCE"

// Info is what the orchestrator needs to know about the host.
type Info struct {
	// Name is the human name of the OS, e.g. "macOS".
	Name string
	// Python is the interpreter the agent should call helpers with.
	Python string
	// Env holds extra KEY=VALUE entries for the agent process environment.
	Env []string
}

var (
	once sync.Once
	info Info
)

// Init performs the one-time host setup and returns the host description.
// Later calls return the first result. An empty python selects python3 from PATH.
func Init(python string) Info {
	once.Do(func() {
		info = detect(runtime.GOOS, python)
		// Synthetic input on macOS must come from the HID system event source.
		if runtime.GOOS == "darwin" && os.Getenv(EventSourceEnv) == "" {
			info.Env = append(info.Env, EventSourceEnv+"=hid-system")
		}
	})
	return info
}

func detect(goos, python string) Info {
	return Info{Name: DisplayName(goos), Python: resolvePython(python)}
}

// DisplayName maps a GOOS value to the name used in the agent instructions.
func DisplayName(goos string) string {
	switch goos {
	case "darwin":
		return "macOS"
	case "windows":
		return "Windows"
	case "linux":
		return "Linux"
	default:
		return goos
	}
}

func resolvePython(python string) string {
	if python != "" {
		return python
	}
	for _, name := range []string{"python3", "python"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return "python3"
}
