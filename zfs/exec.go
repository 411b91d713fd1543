// SPDX-License-Identifier: BSD-2-Clause

// Package zfs wraps the zfs(8)/zpool(8) command line the way the teacher's
// pkg/zfs package does: shell out, parse either whitespace-separated
// columns or -o json output, and surface failures with captured stderr.
package zfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/bsdci/libioc/iocerrors"
)

// CmdError carries the captured stderr of a failed zfs/zpool invocation.
type CmdError struct {
	Debug  string
	Stderr string
	Err    error
}

func (e *CmdError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Debug, msg)
}

func (e *CmdError) Unwrap() error { return e.Err }

// Runner executes external commands, with explicit stdin/stdout plumbing so
// zfs send/receive streams can pass through without buffering in memory.
// Production code uses execRunner; tests substitute a fake to avoid
// touching a real host.
type Runner interface {
	Run(ctx context.Context, in io.Reader, out io.Writer, name string, args ...string) error
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, in io.Reader, out io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = in
	var stderr bytes.Buffer
	cmd.Stdout = out
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &CmdError{
			Debug:  name + " " + strings.Join(args, " "),
			Stderr: stderr.String(),
			Err:    err,
		}
	}
	return nil
}

// DefaultRunner is the Runner used by package-level helpers unless
// overridden (tests replace this).
var DefaultRunner Runner = execRunner{}

type Client struct {
	run Runner
}

// NewClient returns a zfs client using the default (real) command runner.
func NewClient() *Client { return &Client{run: DefaultRunner} }

// NewClientWithRunner returns a zfs client using a caller-supplied Runner,
// for tests.
func NewClientWithRunner(r Runner) *Client { return &Client{run: r} }

func (c *Client) zfs(ctx context.Context, args ...string) ([]byte, error) {
	var out bytes.Buffer
	if err := c.run.Run(ctx, nil, &out, "zfs", args...); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (c *Client) zpool(ctx context.Context, args ...string) ([]byte, error) {
	var out bytes.Buffer
	if err := c.run.Run(ctx, nil, &out, "zpool", args...); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

func (c *Client) zfsLines(ctx context.Context, args ...string) ([][]string, error) {
	out, err := c.zfs(ctx, args...)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

func splitLines(out []byte) [][]string {
	text := strings.TrimRight(string(out), "\n")
	if text == "" {
		return nil
	}
	rawLines := strings.Split(text, "\n")
	lines := make([][]string, 0, len(rawLines))
	for _, l := range rawLines {
		lines = append(lines, strings.Split(l, "\t"))
	}
	return lines
}

func decodeJSON[T any](out []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(out))
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, iocerrors.Wrap(iocerrors.KindZFSException, "decode zfs json output", err)
	}
	return v, nil
}
