package agent

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver"
	"howett.net/plist"

	"github.com/devicelab-dev/device-agent/pkg/core"
	"github.com/devicelab-dev/device-agent/pkg/logger"
)

// Bundle file names inside the bundle directory.
const (
	AppName       = "DeviceAgent-Runner.app"
	XCTestRunName = "DeviceAgent.xctestrun"
)

// Bundle locates the on-disk agent. An explicit Override wins; otherwise
// Archive is unpacked into Dir the first time the bundle is needed.
// A Bundle is created per process run and passed to the launchers.
type Bundle struct {
	Override string // App path from the environment
	Archive  string // Zip carrying the default app and xctestrun
	Dir      string // Unpack destination

	resolved string
}

// Info is the subset of the app's Info.plist the controller needs.
type Info struct {
	BundleID     string `plist:"CFBundleIdentifier"`
	BuildVersion string `plist:"CFBundleVersion"`
	ShortVersion string `plist:"CFBundleShortVersionString"`
}

// AppPath returns the agent .app, unpacking the archive if needed.
func (b *Bundle) AppPath() (string, error) {
	if b.resolved != "" {
		return b.resolved, nil
	}

	if b.Override != "" {
		if _, err := os.Stat(b.Override); err != nil {
			return "", core.ErrInvalidConfig.WithMessagef("agent app override %s does not exist", b.Override).WithCause(err)
		}
		b.resolved = b.Override
		return b.resolved, nil
	}

	if b.Dir == "" {
		return "", core.ErrInvalidConfig.WithMessage("no agent bundle directory configured")
	}
	appPath := filepath.Join(b.Dir, AppName)
	if _, err := os.Stat(appPath); err != nil {
		if b.Archive == "" {
			return "", core.ErrInvalidConfig.WithMessagef("agent app not found at %s and no archive configured", appPath)
		}
		logger.Info("Unpacking agent bundle %s into %s", b.Archive, b.Dir)
		if err := os.MkdirAll(b.Dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create bundle directory: %w", err)
		}
		if err := unpack(b.Archive, b.Dir); err != nil {
			return "", fmt.Errorf("failed to extract agent archive: %w", err)
		}
		if _, err := os.Stat(appPath); err != nil {
			return "", core.ErrInvalidConfig.WithMessagef("archive %s does not contain %s", b.Archive, AppName)
		}
	}

	b.resolved = appPath
	return b.resolved, nil
}

// XCTestRunPath returns the xctestrun file next to the app.
func (b *Bundle) XCTestRunPath() (string, error) {
	app, err := b.AppPath()
	if err != nil {
		return "", err
	}
	path := filepath.Join(filepath.Dir(app), XCTestRunName)
	if _, err := os.Stat(path); err != nil {
		return "", core.ErrInvalidConfig.WithMessagef("xctestrun not found at %s", path)
	}
	return path, nil
}

// Info reads the app's Info.plist.
func (b *Bundle) Info() (Info, error) {
	app, err := b.AppPath()
	if err != nil {
		return Info{}, err
	}
	return ReadInfo(app)
}

// BuildIdentifier returns CFBundleVersion of the on-disk agent.
func (b *Bundle) BuildIdentifier() (string, error) {
	info, err := b.Info()
	if err != nil {
		return "", err
	}
	if info.BuildVersion == "" {
		return info.ShortVersion, nil
	}
	return info.BuildVersion, nil
}

// ReadInfo decodes appPath/Info.plist in any plist format.
func ReadInfo(appPath string) (Info, error) {
	data, err := os.ReadFile(filepath.Join(appPath, "Info.plist"))
	if err != nil {
		return Info{}, fmt.Errorf("failed to read Info.plist: %w", err)
	}
	var info Info
	if _, err := plist.Unmarshal(data, &info); err != nil {
		return Info{}, fmt.Errorf("failed to parse Info.plist: %w", err)
	}
	return info, nil
}

// SameBuild compares build identifiers. Versions that parse as semver are
// compared numerically ("1.2" equals "1.2.0"); anything else must match
// exactly after trimming.
func SameBuild(running, onDisk string) bool {
	running = strings.TrimSpace(running)
	onDisk = strings.TrimSpace(onDisk)
	a, errA := semver.NewVersion(running)
	b, errB := semver.NewVersion(onDisk)
	if errA == nil && errB == nil {
		return a.Equal(b)
	}
	return running == onDisk
}

// InjectEnv writes env into every test target's EnvironmentVariables in an
// xctestrun file. Environment set on xcodebuild itself does not reach the
// runner, which reads it from the xctestrun.
func InjectEnv(xctestrunPath string, env map[string]string) error {
	if len(env) == 0 {
		return nil
	}
	data, err := os.ReadFile(xctestrunPath)
	if err != nil {
		return fmt.Errorf("failed to read xctestrun: %w", err)
	}

	var doc map[string]interface{}
	format, err := plist.Unmarshal(data, &doc)
	if err != nil {
		return fmt.Errorf("failed to parse xctestrun: %w", err)
	}

	if configs, ok := doc["TestConfigurations"].([]interface{}); ok {
		// Format version 2
		for _, cfg := range configs {
			cfgMap, _ := cfg.(map[string]interface{})
			if cfgMap == nil {
				continue
			}
			targets, _ := cfgMap["TestTargets"].([]interface{})
			for _, tgt := range targets {
				setTargetEnv(tgt, env)
			}
		}
	} else {
		// Format version 1: top-level keys are test targets
		for key, val := range doc {
			if key == "__xctestrun_metadata__" {
				continue
			}
			setTargetEnv(val, env)
		}
	}

	out, err := plist.Marshal(doc, format)
	if err != nil {
		return fmt.Errorf("failed to serialize xctestrun: %w", err)
	}
	return os.WriteFile(xctestrunPath, out, 0644)
}

func setTargetEnv(target interface{}, env map[string]string) {
	tgtMap, ok := target.(map[string]interface{})
	if !ok {
		return
	}
	vars, ok := tgtMap["EnvironmentVariables"].(map[string]interface{})
	if !ok {
		vars = make(map[string]interface{})
		tgtMap["EnvironmentVariables"] = vars
	}
	for k, v := range env {
		vars[k] = v
	}
}

// unpack extracts a zip archive into dest. Entries that resolve outside
// dest are rejected.
func unpack(archive, dest string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, entry := range zr.File {
		path := filepath.Join(dest, entry.Name)
		rel, err := filepath.Rel(dest, path)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
			return core.ErrInvalidConfig.WithMessagef("archive entry %q escapes %s", entry.Name, dest)
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(path, 0755); err != nil {
				return fmt.Errorf("create %s: %w", rel, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return fmt.Errorf("create %s: %w", filepath.Dir(rel), err)
		}
		if err := writeEntry(entry, path); err != nil {
			return fmt.Errorf("write %s: %w", rel, err)
		}
	}
	return nil
}

// writeEntry copies one archive file to path, keeping its mode so the
// app executable stays runnable.
func writeEntry(entry *zip.File, path string) (err error) {
	in, err := entry.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}
