package config

import (
	"os"
	"path/filepath"
)

// ResolveHome fills in Home when it is still empty and returns it.
//
// Resolution order:
//  1. $DEVICE_AGENT_HOME
//  2. Parent of the binary's directory (if binary is in <home>/bin/)
//  3. Current working directory (development fallback)
func (c *Config) ResolveHome(getenv func(string) string) string {
	if c.Home == "" {
		c.Home = resolveHome(getenv, os.Executable)
	}
	return c.Home
}

// CacheDir returns <home>/cache.
func (c *Config) CacheDir() string {
	return filepath.Join(c.Home, "cache")
}

// BundleDir returns <home>/cache/agent, where the default bundle is unpacked.
func (c *Config) BundleDir() string {
	return filepath.Join(c.CacheDir(), "agent")
}

func resolveHome(getenv func(string) string, executable func() (string, error)) string {
	if env := getenv(EnvHome); env != "" {
		return env
	}

	// Binary-relative: if binary is at <home>/bin/device-agent, use <home>
	if execPath, err := executable(); err == nil {
		if resolved, err := filepath.EvalSymlinks(execPath); err == nil {
			execPath = resolved
		}
		binDir := filepath.Dir(execPath)
		if filepath.Base(binDir) == "bin" {
			return filepath.Dir(binDir)
		}
	}

	if cwd, err := os.Getwd(); err == nil {
		return cwd
	}

	return "."
}
