// Command segtest evaluates a semantic segmentation model on a dataset,
// optionally with one process per device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/nvr-ai/go-seg/config"
	"github.com/nvr-ai/go-seg/distributed"
	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/nvr-ai/go-seg/logging"
	"github.com/nvr-ai/go-seg/tester"
	"github.com/sirupsen/logrus"
)

type flags struct {
	modelName    string
	datasetName  string
	backboneName string
	checkpoints  string
	localRank    int
	nprocPerNode int
	noEval       bool
	configDir    string
	launch       bool
	masterPort   int
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.modelName, "modelname", "", "model to test, e.g. annnet")
	flag.StringVar(&f.datasetName, "datasetname", "", "dataset to test on, e.g. voc")
	flag.StringVar(&f.backboneName, "backbonename", "", "backbone of the model, e.g. resnet50")
	flag.StringVar(&f.checkpoints, "checkpointspath", "", "weights file (.onnx or .safetensors)")
	flag.IntVar(&f.localRank, "local-rank", 0, "rank of this process on the node")
	flag.IntVar(&f.nprocPerNode, "nproc-per-node", 1, "number of processes per node")
	flag.BoolVar(&f.noEval, "noeval", false, "save predictions without evaluating them")
	flag.StringVar(&f.configDir, "configdir", "configs", "root directory of the config files")
	flag.BoolVar(&f.launch, "launch", false, "spawn one process per rank and wait for them")
	flag.IntVar(&f.masterPort, "master-port", 29500, "port rank 0 listens on when launching")
	flag.Parse()
	return f
}

func main() {
	f := parseFlags()

	var missing []string
	for name, v := range map[string]string{
		"modelname":       f.modelName,
		"datasetname":     f.datasetName,
		"backbonename":    f.backboneName,
		"checkpointspath": f.checkpoints,
	} {
		if v == "" {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(os.Stderr, "missing required flags: %s\n", strings.Join(missing, ", "))
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.launch {
		err := distributed.Launch(ctx, distributed.LaunchOptions{
			Args:       childArgs(os.Args[1:]),
			NProc:      f.nprocPerNode,
			MasterPort: f.masterPort,
		})
		if err != nil {
			logrus.WithError(err).Fatal("launch failed")
		}
		return
	}

	if err := run(ctx, f); err != nil {
		logrus.WithError(err).WithField("rank", f.localRank).Fatal("test failed")
	}
}

// childArgs drops the flags that only concern the launcher.
func childArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		name, _, hasValue := strings.Cut(strings.TrimLeft(args[i], "-"), "=")
		switch name {
		case "launch":
			continue
		case "local-rank":
			if !hasValue {
				i++
			}
			continue
		}
		out = append(out, args[i])
	}
	return out
}

func run(ctx context.Context, f flags) error {
	comm, err := distributed.FromEnv(f.localRank)
	if err != nil {
		return err
	}
	if err := comm.Init(ctx); err != nil {
		return err
	}
	defer comm.Close()

	cfg, path, err := config.Build(f.configDir, f.modelName, f.datasetName, f.backboneName)
	if err != nil {
		return err
	}

	logger, err := logging.New(logging.Options{
		Path:  cfg.Common.LogFilePath,
		Level: cfg.Common.LogLevel,
		Rank:  comm.Rank(),
	})
	if err != nil {
		return err
	}
	defer logger.Close()

	rc := distributed.RunContext{
		Rank:      comm.Rank(),
		WorldSize: comm.WorldSize(),
		Device:    providers.ForRank(cfg.Model.Backend, f.localRank),
		Logger:    logger.Entry,
		Comm:      comm,
	}
	t, err := tester.New(rc, tester.Options{
		Config:       cfg,
		ConfigPath:   path,
		Checkpoint:   f.checkpoints,
		NProcPerNode: f.nprocPerNode,
		NoEval:       f.noEval,
	})
	if err != nil {
		return err
	}
	_, err = t.Run(ctx)
	return err
}
