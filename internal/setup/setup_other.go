//go:build !linux
// +build !linux

package setup

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

var errNotLinux = fmt.Errorf("arc-setup requires Linux (current OS: %s)", runtime.GOOS)

func hostArch() string                { return runtime.GOARCH }
func bootTime() (time.Duration, error) { return 0, errNotLinux }

func (o *Orchestrator) onSetup(context.Context) error               { return errNotLinux }
func (o *Orchestrator) onSetupForLoginScreen(context.Context) error { return errNotLinux }
func (o *Orchestrator) onBootContinue(context.Context) error        { return errNotLinux }
func (o *Orchestrator) onStop(context.Context) error                { return errNotLinux }
func (o *Orchestrator) onOnetimeSetup(context.Context) error        { return errNotLinux }
func (o *Orchestrator) onOnetimeStop(context.Context) error         { return errNotLinux }
func (o *Orchestrator) onPreChroot(context.Context) error           { return errNotLinux }
