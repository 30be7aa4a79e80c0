package utils

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Run executes an external tool, logging the full argv. Output is captured
// and returned alongside the error so callers can surface tool stderr.
func Run(program string, args ...string) (string, error) {
	Log.Debug().Str("cmd", program).Strs("args", args).Msg("Running command")
	cmd := exec.Command(program, args...)
	cmd.Env = os.Environ()
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", program, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// RunWithStdin feeds input on stdin. Used for passphrases and partition
// scripts so key material never appears in an argv.
func RunWithStdin(input []byte, program string, args ...string) (string, error) {
	Log.Debug().Str("cmd", program).Strs("args", args).Msg("Running command with stdin")
	cmd := exec.Command(program, args...)
	cmd.Env = os.Environ()
	cmd.Stdin = bytes.NewReader(input)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return string(out), fmt.Errorf("%s %s: %w: %s", program, strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

// Output runs a tool and returns its trimmed stdout.
func Output(program string, args ...string) (string, error) {
	Log.Debug().Str("cmd", program).Strs("args", args).Msg("Running command for output")
	cmd := exec.Command(program, args...)
	cmd.Env = os.Environ()
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", program, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}

// CommandWithPath runs a shell command with a sane PATH, for tools that
// are picky about their environment inside the initramfs or a chroot.
func CommandWithPath(command string) (string, error) {
	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Env = os.Environ()
	pathAppend := "/usr/bin:/usr/sbin:/bin:/sbin"
	if os.Getenv("PATH") != "" {
		pathAppend = fmt.Sprintf("%s:%s", os.Getenv("PATH"), pathAppend)
	}
	cmd.Env = append(cmd.Env, fmt.Sprintf("PATH=%s", pathAppend))
	o, err := cmd.CombinedOutput()
	return string(o), err
}
