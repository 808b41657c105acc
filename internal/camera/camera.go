// Package camera provides the still-capture collaborators that do not need
// OpenCV: the Raspberry Pi camera stack via its command-line tool, and a
// fixture camera for running without hardware.
package camera

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/banshee-data/motion.report/internal/fsutil"
)

// DefaultCommand is the libcamera still-capture tool shipped with Raspberry
// Pi OS.
const DefaultCommand = "rpicam-still"

// WaitDelay bounds how long CaptureTo waits for output pipes to close once
// the capture process has been killed.
var WaitDelay = time.Second

// CommandCamera shells out to a capture tool for each still. The output path
// is appended as "-o <path>".
type CommandCamera struct {
	Command string
	Args    []string
}

// NewRPiCamera returns a CommandCamera for rpicam-still with no preview and
// the shortest capture delay.
func NewRPiCamera() *CommandCamera {
	return &CommandCamera{
		Command: DefaultCommand,
		Args:    []string{"--nopreview", "--immediate", "-t", "1"},
	}
}

// CaptureTo runs the capture command. The process is killed when ctx ends.
func (c *CommandCamera) CaptureTo(ctx context.Context, path string) error {
	args := append(append([]string(nil), c.Args...), "-o", path)
	cmd := exec.CommandContext(ctx, c.Command, args...)
	// a helper forked by the tool can hold stderr open after the kill
	cmd.WaitDelay = WaitDelay
	killProcessGroup(cmd)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s failed: %w: %s", c.Command, err, msg)
		}
		return fmt.Errorf("%s failed: %w", c.Command, err)
	}
	return nil
}

// FixtureCamera copies a fixed image to each capture path. Used in dev mode.
type FixtureCamera struct {
	fs     fsutil.FileSystem
	source string
}

// NewFixtureCamera reads nothing up front; a missing fixture surfaces as a
// capture failure, exercising the dropped-event path.
func NewFixtureCamera(fs fsutil.FileSystem, source string) *FixtureCamera {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &FixtureCamera{fs: fs, source: source}
}

func (c *FixtureCamera) CaptureTo(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := c.fs.ReadFile(c.source)
	if err != nil {
		return fmt.Errorf("failed to read fixture image: %w", err)
	}
	if err := c.fs.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	return nil
}
