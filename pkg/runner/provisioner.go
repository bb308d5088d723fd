package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/workflow"
)

var provisionerLog = logger.New("runner:provisioner")

// Provisioner makes an instance's runner image and toolchain available.
// Any error it returns is an infrastructure failure.
type Provisioner interface {
	Provision(ctx context.Context, inst *workflow.Instance, workspace string, out io.Writer) error
}

// imageFamilies maps hosted runner image prefixes to the GOOS they need.
var imageFamilies = []struct {
	prefix string
	goos   string
}{
	{"ubuntu-", "linux"},
	{"macos-", "darwin"},
	{"windows-", "windows"},
}

// ImageOS returns the operating system a runner image requires. The
// self-hosted label accepts any host.
func ImageOS(image string) (string, bool) {
	if image == "self-hosted" {
		return runtime.GOOS, true
	}
	for _, f := range imageFamilies {
		if strings.HasPrefix(image, f.prefix) {
			return f.goos, true
		}
	}
	return "", false
}

// HostProvisioner satisfies instances on the local machine: the runner image
// must match the host operating system and toolchains are installed with
// rustup.
type HostProvisioner struct {
	// GOOS overrides the detected host operating system.
	GOOS string
	// Rustup is the rustup binary; "rustup" when empty.
	Rustup string
	// SkipToolchainInstall trusts the toolchain already on PATH.
	SkipToolchainInstall bool
}

// Provision implements Provisioner.
func (p *HostProvisioner) Provision(ctx context.Context, inst *workflow.Instance, workspace string, out io.Writer) error {
	hostOS := p.GOOS
	if hostOS == "" {
		hostOS = runtime.GOOS
	}
	want, ok := ImageOS(inst.RunsOn)
	if !ok {
		return fmt.Errorf("%w: unrecognized image %q", ErrUnsupportedImage, inst.RunsOn)
	}
	if want != hostOS {
		return fmt.Errorf("%w: %s needs %s, host is %s", ErrUnsupportedImage, inst.RunsOn, want, hostOS)
	}
	provisionerLog.Printf("Image %s satisfied by host %s", inst.RunsOn, hostOS)

	if inst.Toolchain == nil || p.SkipToolchainInstall {
		return nil
	}

	rustup := p.Rustup
	if rustup == "" {
		rustup = "rustup"
	}
	if _, err := exec.LookPath(rustup); err != nil {
		return fmt.Errorf("toolchain %s unavailable: %w", inst.Toolchain.Channel, err)
	}

	args := []string{"toolchain", "install", inst.Toolchain.Channel, "--profile", "minimal", "--no-self-update"}
	for _, c := range inst.Toolchain.Components {
		args = append(args, "--component", c)
	}
	fmt.Fprintln(out, console.FormatCommandMessage(shellJoinArgs(append([]string{rustup}, args...))))

	code, err := runCommand(ctx, workspace, os.Environ(), out, rustup, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("rustup toolchain install %s exited with code %d", inst.Toolchain.Channel, code)
	}
	return nil
}
