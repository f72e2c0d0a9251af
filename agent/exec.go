package main

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Platform command execution for operator-issued work. Each helper returns
// an error with enough text to be useful as a reported result.

func rebootMachine() error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("shutdown", "/r", "/t", "0")
	case "darwin":
		cmd = exec.Command("osascript", "-e", `tell app "System Events" to restart`)
	default:
		cmd = exec.Command("systemctl", "reboot")
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("reboot failed: %v: %s", err, out)
	}
	return nil
}

func lockScreen(message string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32.exe", "user32.dll,LockWorkStation")
	case "darwin":
		cmd = exec.Command("pmset", "displaysleepnow")
	default:
		cmd = exec.Command("loginctl", "lock-sessions")
	}
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("lock failed: %v: %s", err, out)
	}
	_ = message // shown by the lock-screen helper on platforms that support it
	return nil
}

func unlockScreen() error {
	switch runtime.GOOS {
	case "linux":
		cmd := exec.Command("loginctl", "unlock-sessions")
		if out, err := cmd.CombinedOutput(); err != nil {
			return fmt.Errorf("unlock failed: %v: %s", err, out)
		}
		return nil
	default:
		return fmt.Errorf("unlock not supported on %s", runtime.GOOS)
	}
}
