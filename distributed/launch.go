package distributed

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LaunchOptions describes the processes to spawn.
type LaunchOptions struct {
	// Executable defaults to the running binary.
	Executable string
	// Args are passed to every process, followed by -local-rank=<rank>.
	Args []string
	// NProc is the number of processes.
	NProc int
	// MasterAddr and MasterPort locate rank 0. The address defaults to
	// 127.0.0.1 and the port to 29500.
	MasterAddr string
	MasterPort int
	// Env is appended to the current environment of every process.
	Env []string
	// Stdout and Stderr default to the launcher's.
	Stdout io.Writer
	Stderr io.Writer
}

// Launch runs one process per rank and waits for all of them. A failing
// rank does not stop the others.
//
// Arguments:
//   - ctx: Kills every process when cancelled.
//   - opts: The launch options.
//
// Returns:
//   - error: The first failure, naming its rank.
func Launch(ctx context.Context, opts LaunchOptions) error {
	if opts.NProc <= 0 {
		return errors.Wrapf(ErrGroup, "number of processes must be positive, got %d", opts.NProc)
	}
	exe := opts.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return errors.Wrap(err, "failed to locate executable")
		}
	}
	if opts.MasterAddr == "" {
		opts.MasterAddr = "127.0.0.1"
	}
	if opts.MasterPort == 0 {
		opts.MasterPort = 29500
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	var g errgroup.Group
	for rank := 0; rank < opts.NProc; rank++ {
		args := append(append([]string{}, opts.Args...), fmt.Sprintf("-local-rank=%d", rank))
		cmd := exec.CommandContext(ctx, exe, args...)
		cmd.Stdout = opts.Stdout
		cmd.Stderr = opts.Stderr
		cmd.Env = append(os.Environ(), opts.Env...)
		cmd.Env = append(cmd.Env,
			EnvRank+"="+strconv.Itoa(rank),
			EnvLocalRank+"="+strconv.Itoa(rank),
			EnvWorldSize+"="+strconv.Itoa(opts.NProc),
			EnvMasterAddr+"="+opts.MasterAddr,
			EnvMasterPort+"="+strconv.Itoa(opts.MasterPort),
		)
		g.Go(func() error {
			if err := cmd.Run(); err != nil {
				return errors.Wrapf(err, "rank %d failed", rank)
			}
			return nil
		})
	}
	return g.Wait()
}
