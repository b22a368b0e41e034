package reliability

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleep/internal/ipc"
)

// Stage is one step of the staged recovery pipeline (§4.2): a name for
// logging, a back-off policy private to that stage, and the action itself.
type Stage struct {
	Name string
	Boff func() backoff.BackOff
	Run  func(ctx context.Context) error
}

func defaultStageBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 20 * time.Second
	return b
}

// Pipeline runs recovery stages in order on OperationTimeout/NoReply at the
// device layer, stopping at the first stage that succeeds. State carried by
// the caller (which characteristics were subscribed, etc.) is the caller's
// responsibility to restore after Recover returns nil; the pipeline only
// re-establishes connectivity, not application-level intent.
type Pipeline struct {
	stages []Stage
	log    *logrus.Entry
}

// NewPipeline builds a pipeline from stages in execution order.
func NewPipeline(log *logrus.Entry, stages ...Stage) *Pipeline {
	if log == nil {
		log = logrus.NewEntry(logrus.New())
	}
	return &Pipeline{stages: stages, log: log.WithField("component", "recovery")}
}

// Recover runs each stage in order, retrying a stage per its own back-off
// policy until it succeeds or its budget is exhausted, then moving to the
// next stage. Returns nil as soon as a stage succeeds; an error naming every
// exhausted stage if all of them fail.
func (p *Pipeline) Recover(ctx context.Context) error {
	var failed []string
	for _, stage := range p.stages {
		boff := backoff.WithContext(stage.Boff(), ctx)
		err := backoff.Retry(func() error { return stage.Run(ctx) }, boff)
		if err == nil {
			p.log.WithField("stage", stage.Name).Info("recovery succeeded")
			return nil
		}
		p.log.WithField("stage", stage.Name).WithError(err).Warn("recovery stage exhausted, advancing")
		failed = append(failed, stage.Name)
		if ctx.Err() != nil {
			break
		}
	}
	return fmt.Errorf("recovery exhausted all stages %v", failed)
}

// RecreateProxyStage drops every cached proxy under devicePath, forcing the
// next call to rebuild it fresh — stage 2 of §4.2's pipeline.
func RecreateProxyStage(pool *ipc.Pool, service string, devicePath dbus.ObjectPath) Stage {
	return Stage{
		Name: "recreate_device_proxy",
		Boff: defaultStageBackoff,
		Run: func(ctx context.Context) error {
			pool.InvalidatePath(service, devicePath)
			_, err := pool.GetProxy(ctx, service, devicePath, "org.bluez.Device1")
			return err
		},
	}
}

// PowerCycleAdapterStage toggles the adapter's Powered property off then on
// — stage 3 of §4.2's pipeline.
func PowerCycleAdapterStage(pool *ipc.Pool, service string, adapterPath dbus.ObjectPath, settle time.Duration) Stage {
	return Stage{
		Name: "power_cycle_adapter",
		Boff: defaultStageBackoff,
		Run: func(ctx context.Context) error {
			proxy, err := pool.GetProxy(ctx, service, adapterPath, "org.bluez.Adapter1")
			if err != nil {
				return err
			}
			if err := proxy.SetProperty(ctx, "Powered", false); err != nil {
				return err
			}
			select {
			case <-time.After(settle):
			case <-ctx.Done():
				return ctx.Err()
			}
			return proxy.SetProperty(ctx, "Powered", true)
		},
	}
}

// CommandRunner executes a system-level recovery command. The default is
// exec.CommandContext; tests substitute a fake to avoid touching the host.
type CommandRunner func(ctx context.Context, name string, args ...string) error

// ExecCommandRunner runs the named command for real, per §4.2's "reset
// controller via system-level command" / "restart external daemon via
// system-level command" stages.
func ExecCommandRunner(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}

// ResetControllerStage resets the named HCI controller at the OS level —
// stage 4 of §4.2's pipeline.
func ResetControllerStage(run CommandRunner, adapterID string) Stage {
	return Stage{
		Name: "reset_controller",
		Boff: defaultStageBackoff,
		Run: func(ctx context.Context) error {
			return run(ctx, "hciconfig", adapterID, "reset")
		},
	}
}

// RestartDaemonStage restarts the host Bluetooth daemon — stage 5, the last
// resort of §4.2's pipeline.
func RestartDaemonStage(run CommandRunner) Stage {
	return Stage{
		Name: "restart_daemon",
		Boff: defaultStageBackoff,
		Run: func(ctx context.Context) error {
			return run(ctx, "systemctl", "restart", "bluetooth")
		},
	}
}
