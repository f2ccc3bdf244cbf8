//go:build linux || darwin

package config

import (
	"os"
	"path/filepath"
)

func configSearchPaths() []string {
	home, _ := os.UserHomeDir()
	return []string{
		filepath.Join(home, ".vitalis-probe", "config.yaml"),
		"/etc/vitalis-probe/probe.yaml",
	}
}
