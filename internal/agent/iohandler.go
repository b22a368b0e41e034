package agent

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// IOHandler is the pluggable prompt backend a CapabilityProfile's methods
// are routed through: CLI (interactive operator), programmatic callback
// (scripted/automated runs), or auto-accept (NoInputNoOutput, CTF/orchestrate
// flows that must never block on a human).
type IOHandler interface {
	PinCode(ctx context.Context, device string) (string, error)
	Passkey(ctx context.Context, device string) (uint32, error)
	Confirm(ctx context.Context, device, prompt string) (bool, error)
}

// AutoAcceptIO answers every prompt affirmatively without blocking: pin
// "0000", zero passkey, confirmation always true. The only IOHandler valid for
// NoInputNoOutput, and the default for automated orchestration flows.
type AutoAcceptIO struct{}

func (AutoAcceptIO) PinCode(ctx context.Context, device string) (string, error)    { return "0000", nil }
func (AutoAcceptIO) Passkey(ctx context.Context, device string) (uint32, error)    { return 0, nil }
func (AutoAcceptIO) Confirm(ctx context.Context, device, prompt string) (bool, error) {
	return true, nil
}

// CallbackIO wraps three programmatic functions, letting an orchestrator
// drive pairing decisions without a terminal. A nil field falls back to
// AutoAcceptIO's answer for that prompt.
type CallbackIO struct {
	OnPinCode func(device string) (string, error)
	OnPasskey func(device string) (uint32, error)
	OnConfirm func(device, prompt string) (bool, error)
}

func (c CallbackIO) PinCode(ctx context.Context, device string) (string, error) {
	if c.OnPinCode == nil {
		return AutoAcceptIO{}.PinCode(ctx, device)
	}
	return c.OnPinCode(device)
}

func (c CallbackIO) Passkey(ctx context.Context, device string) (uint32, error) {
	if c.OnPasskey == nil {
		return AutoAcceptIO{}.Passkey(ctx, device)
	}
	return c.OnPasskey(device)
}

func (c CallbackIO) Confirm(ctx context.Context, device, prompt string) (bool, error) {
	if c.OnConfirm == nil {
		return AutoAcceptIO{}.Confirm(ctx, device, prompt)
	}
	return c.OnConfirm(device, prompt)
}

// CLIIO prompts an operator over r/w — the interactive path for a human
// running bleep directly against a terminal.
type CLIIO struct {
	R *bufio.Reader
	W io.Writer
}

// NewCLIIO wraps r/w with buffered line reading.
func NewCLIIO(r io.Reader, w io.Writer) *CLIIO {
	return &CLIIO{R: bufio.NewReader(r), W: w}
}

func (c *CLIIO) PinCode(ctx context.Context, device string) (string, error) {
	fmt.Fprintf(c.W, "[agent] PIN code for %s: ", device)
	line, err := c.R.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (c *CLIIO) Passkey(ctx context.Context, device string) (uint32, error) {
	fmt.Fprintf(c.W, "[agent] passkey for %s: ", device)
	line, err := c.R.ReadString('\n')
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseUint(strings.TrimSpace(line), 10, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func (c *CLIIO) Confirm(ctx context.Context, device, prompt string) (bool, error) {
	fmt.Fprintf(c.W, "[agent] %s (%s) [y/N]: ", prompt, device)
	line, err := c.R.ReadString('\n')
	if err != nil {
		return false, err
	}
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes", nil
}
