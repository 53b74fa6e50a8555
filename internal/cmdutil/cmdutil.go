package cmdutil

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Default timeouts for different operation classes
const (
	TimeoutFast   = 10 * time.Second // status checks, driver Kind/probe calls
	TimeoutMedium = 60 * time.Second // config reload, provision/unprovision
	TimeoutSlow   = 5 * time.Minute  // monitor_action escalation (reboot, crash, freezestop)
)

// Run executes a command with the given timeout, returns (output, error).
// If the command exceeds the timeout, it is killed and an error is returned.
// This prevents the Go daemon from hanging when hardware is unresponsive.
func Run(timeout time.Duration, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("command timed out after %v: %s %v", timeout, name, args)
	}

	return output, err
}

// RunFast executes a command with TimeoutFast (10s).
// Use for: status checks, list operations, stat, hdparm -C, getfacl
func RunFast(name string, args ...string) ([]byte, error) {
	return Run(TimeoutFast, name, args...)
}

// RunMedium executes a command with TimeoutMedium (60s).
// Use for: snapshot creation, mount/unmount, config reload, setfacl, ufw
func RunMedium(name string, args ...string) ([]byte, error) {
	return Run(TimeoutMedium, name, args...)
}

// RunSlow executes a command with TimeoutSlow (5min).
// Use for: monitor_action escalation commands that must be given room to
// complete (systemctl reboot, kexec crash, a freezestop hook script).
func RunSlow(name string, args ...string) ([]byte, error) {
	return Run(TimeoutSlow, name, args...)
}

// RunNoTimeout executes a command without a timeout (same as exec.Command).
// Use ONLY for commands that must complete regardless of time (e.g. a
// reboot(8) call that never returns on success).
func RunNoTimeout(name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	return cmd.CombinedOutput()
}

// RunWithStdin executes a command with timeout and pipes stdinData to its
// stdin. Use for driver/collaborator commands that require input on stdin
// rather than as an argv entry.
func RunWithStdin(timeout time.Duration, stdinData string, name string, args ...string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = strings.NewReader(stdinData)
	output, err := cmd.CombinedOutput()

	if ctx.Err() == context.DeadlineExceeded {
		return output, fmt.Errorf("command timed out after %v: %s %v", timeout, name, args)
	}

	return output, err
}

