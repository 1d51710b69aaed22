// Package distributed - Process groups, run contexts and the multi-process
// launcher used to test on several devices at once.
package distributed

import (
	"context"
	"os"
	"strconv"

	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Environment variables read by FromEnv and set by Launch.
const (
	EnvRank       = "RANK"
	EnvLocalRank  = "LOCAL_RANK"
	EnvWorldSize  = "WORLD_SIZE"
	EnvMasterAddr = "MASTER_ADDR"
	EnvMasterPort = "MASTER_PORT"
)

// ErrGroup is returned when the process group cannot be formed.
var ErrGroup = errors.New("process group error")

// Communicator synchronizes the processes of one run.
type Communicator interface {
	// Init joins the group. It blocks until every rank has joined.
	Init(ctx context.Context) error
	// Barrier blocks until every rank has reached it.
	Barrier(ctx context.Context) error
	// Rank returns the rank of this process.
	Rank() int
	// WorldSize returns the number of processes.
	WorldSize() int
	// Close leaves the group.
	Close() error
}

// RunContext is the per-process state every component receives.
type RunContext struct {
	// Rank is the process rank in [0, WorldSize).
	Rank int
	// WorldSize is the number of processes.
	WorldSize int
	// Device is the accelerator this process is bound to.
	Device providers.Device
	// Logger is tagged with the rank.
	Logger *logrus.Entry
	// Comm is the process group. Nil means a single process.
	Comm Communicator
}

// IsMain reports whether this process saves, evaluates and logs progress.
func (r RunContext) IsMain() bool {
	return r.Rank == 0
}

// Local is the group of a single process.
type Local struct{}

// Init does nothing.
func (Local) Init(context.Context) error { return nil }

// Barrier returns immediately.
func (Local) Barrier(ctx context.Context) error { return ctx.Err() }

// Rank returns 0.
func (Local) Rank() int { return 0 }

// WorldSize returns 1.
func (Local) WorldSize() int { return 1 }

// Close does nothing.
func (Local) Close() error { return nil }

// FromEnv returns the communicator described by the launcher's environment.
// Without WORLD_SIZE, or with a world of one, it returns Local.
//
// Arguments:
//   - localRank: The rank from the command line, used when RANK is unset.
//
// Returns:
//   - Communicator: The communicator, not yet initialized.
//   - error: ErrGroup if the environment is inconsistent.
func FromEnv(localRank int) (Communicator, error) {
	world, err := envInt(EnvWorldSize, 1)
	if err != nil {
		return nil, err
	}
	rank, err := envInt(EnvRank, localRank)
	if err != nil {
		return nil, err
	}
	if world <= 1 {
		return Local{}, nil
	}
	addr := os.Getenv(EnvMasterAddr)
	if addr == "" {
		addr = "127.0.0.1"
	}
	port := os.Getenv(EnvMasterPort)
	if port == "" {
		return nil, errors.Wrapf(ErrGroup, "%s is not set for a world of %d", EnvMasterPort, world)
	}
	return NewTCPGroup(addr+":"+port, rank, world)
}

func envInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(ErrGroup, "%s=%q is not an integer", name, v)
	}
	return n, nil
}
