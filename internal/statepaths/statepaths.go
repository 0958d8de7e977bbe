package statepaths

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const defaultStateDir = "~/.negotiant"

func StateDir() string {
	dir := strings.TrimSpace(viper.GetString("file_state_dir"))
	if dir == "" {
		dir = defaultStateDir
	}
	return filepath.Clean(ExpandHomePath(dir))
}

func EngineDir() string {
	name := strings.TrimSpace(viper.GetString("engine.dir_name"))
	if name == "" {
		name = "engine"
	}
	return filepath.Join(StateDir(), name)
}

func PatternsPath() string {
	custom := strings.TrimSpace(viper.GetString("classify.patterns_path"))
	if custom != "" {
		return filepath.Clean(ExpandHomePath(custom))
	}
	return filepath.Join(StateDir(), "classify_patterns.yaml")
}

func ExpandHomePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil || strings.TrimSpace(home) == "" {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[len("~/"):])
	}
	return path
}
