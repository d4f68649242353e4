package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// DefaultSearchPaths returns the conventional plugin directories for this platform
// followed by the host's own manifest directory.
func DefaultSearchPaths() []string {
	home, _ := os.UserHomeDir()
	var paths []string
	switch runtime.GOOS {
	case "darwin":
		paths = []string{
			"/Library/Audio/Plug-Ins/VST3",
			"/Library/Audio/Plug-Ins/Components",
			"/Library/Audio/Plug-Ins/CLAP",
		}
		if home != "" {
			paths = append(paths,
				filepath.Join(home, "Library/Audio/Plug-Ins/VST3"),
				filepath.Join(home, "Library/Audio/Plug-Ins/Components"),
			)
		}
	case "windows":
		paths = []string{
			`C:\Program Files\Common Files\VST3`,
			`C:\Program Files\Common Files\CLAP`,
		}
	default:
		paths = []string{"/usr/lib/vst3", "/usr/local/lib/vst3", "/usr/lib/lv2", "/usr/lib/clap"}
		if home != "" {
			paths = append(paths, filepath.Join(home, ".vst3"), filepath.Join(home, ".lv2"))
		}
	}
	return append(paths, filepath.Join(DefaultDataDir(), "plugins"))
}
