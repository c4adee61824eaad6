package agent

import (
	"fmt"
	"os"
	"strings"
)

// knownFailures maps launcher log lines to advice.
var knownFailures = []struct {
	marker string
	hint   string
}{
	{"Developer App Certificate is not trusted", "certificate not trusted - trust it in Settings > General > VPN & Device Management"},
	{"Code Sign error", "code signing failed - check the team id, identity and provisioning profile"},
	{"No provisioning profile", "no provisioning profile matches the agent bundle id"},
	{"Unable to find a destination", "xcodebuild cannot see the device - is it connected and unlocked?"},
	{"Testing failed:", "the agent test run exited"},
}

// Diagnose returns advice for known failures in a launcher log, or "".
func Diagnose(logPath string) string {
	content, err := os.ReadFile(logPath)
	if err != nil {
		return ""
	}
	for _, f := range knownFailures {
		if strings.Contains(string(content), f.marker) {
			return f.hint
		}
	}
	return ""
}

// TailLog returns the last lines of a log file.
func TailLog(path string, lines int) string {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Sprintf("(could not read log: %s)", err)
	}
	allLines := strings.Split(strings.TrimRight(string(content), "\n"), "\n")
	if len(allLines) <= lines {
		return strings.Join(allLines, "\n")
	}
	return strings.Join(allLines[len(allLines)-lines:], "\n")
}
