// Package onnxseg - Segmentation predictor backed by an ONNX Runtime session.
package onnxseg

import (
	"context"
	"fmt"
	"sync"

	"github.com/nvr-ai/go-seg/checkpoints"
	"github.com/nvr-ai/go-seg/inference"
	"github.com/nvr-ai/go-seg/inference/providers"
	"github.com/nvr-ai/go-seg/models/model"
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"gorgonia.org/tensor"
)

// Predictor runs an exported segmentation graph that maps N×C×H×W images
// to N×K×H×W scores. Spatial dimensions must be dynamic in the graph so
// border crops of any size are accepted.
type Predictor struct {
	session    *ort.DynamicAdvancedSession
	input      string
	output     string
	numClasses int
	channels   int
	device     providers.Device
	mu         sync.Mutex
}

// New loads the ONNX graph named by args.Checkpoint on args.Device.
//
// Arguments:
//   - args: The model config, graph path and device.
//
// Returns:
//   - *Predictor: The predictor. Close releases the native session.
//   - error: checkpoints.ErrMismatch if the graph's inputs or outputs do not
//     match the config, providers.ErrDeviceUnavailable if the device cannot
//     be enabled.
func New(args model.NewModelArgs) (*Predictor, error) {
	if err := providers.InitializeRuntime(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(args.Checkpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read graph %s", args.Checkpoint)
	}
	input, output, err := Match(args.Config, inputs, outputs)
	if err != nil {
		return nil, errors.WithMessagef(err, "graph %s", args.Checkpoint)
	}

	options, err := providers.SessionOptions(args.Config.Provider.WithDevice(args.Device))
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(
		args.Checkpoint,
		[]string{input},
		[]string{output},
		options,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create session for %s", args.Checkpoint)
	}

	return &Predictor{
		session:    session,
		input:      input,
		output:     output,
		numClasses: args.Config.NumClasses,
		channels:   args.Config.InChannels,
		device:     args.Device,
	}, nil
}

// Match selects the image input and score output of a graph and checks
// their declared types and channel dimensions against cfg. Dynamic
// dimensions (-1) are accepted.
//
// Arguments:
//   - cfg: The model config.
//   - inputs: The graph inputs.
//   - outputs: The graph outputs.
//
// Returns:
//   - string: The input name.
//   - string: The output name.
//   - error: checkpoints.ErrMismatch listing every difference.
func Match(cfg model.Config, inputs, outputs []ort.InputOutputInfo) (string, string, error) {
	var m checkpoints.Mismatch

	in, ok := find(inputs, cfg.Inputs)
	if !ok {
		m.Missing = append(m.Missing, "input "+want(cfg.Inputs))
	} else {
		checkInfo(&m, in, cfg.InChannels, "channels")
	}

	out, ok := find(outputs, cfg.Outputs)
	if !ok {
		m.Missing = append(m.Missing, "output "+want(cfg.Outputs))
	} else {
		checkInfo(&m, out, cfg.NumClasses, "classes")
	}

	if !m.Empty() {
		return "", "", errors.Wrap(checkpoints.ErrMismatch, m.String())
	}
	return in.Name, out.Name, nil
}

func find(infos []ort.InputOutputInfo, names []string) (ort.InputOutputInfo, bool) {
	if len(names) == 0 {
		if len(infos) == 0 {
			return ort.InputOutputInfo{}, false
		}
		return infos[0], true
	}
	for _, info := range infos {
		if info.Name == names[0] {
			return info, true
		}
	}
	return ort.InputOutputInfo{}, false
}

func want(names []string) string {
	if len(names) == 0 {
		return "(any)"
	}
	return names[0]
}

func checkInfo(m *checkpoints.Mismatch, info ort.InputOutputInfo, channels int, what string) {
	if info.DataType != ort.TensorElementDataTypeFloat {
		m.Shapes = append(m.Shapes, fmt.Sprintf("%s has element type %v, want float32", info.Name, info.DataType))
	}
	dims := info.Dimensions
	if len(dims) != 4 {
		m.Shapes = append(m.Shapes, fmt.Sprintf("%s has shape %v, want [N, C, H, W]", info.Name, dims))
		return
	}
	if dims[1] > 0 && int(dims[1]) != channels {
		m.Shapes = append(m.Shapes, fmt.Sprintf("%s has %d %s, want %d", info.Name, dims[1], what, channels))
	}
}

// NumClasses returns the number of score channels.
func (p *Predictor) NumClasses() int {
	return p.numClasses
}

// Device returns the device the session runs on.
func (p *Predictor) Device() providers.Device {
	return p.device
}

// Forward runs the graph on a batch.
func (p *Predictor) Forward(ctx context.Context, batch *tensor.Dense) (*tensor.Dense, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	n, c, h, w, err := inference.Dims4(batch)
	if err != nil {
		return nil, err
	}
	if c != p.channels {
		return nil, errors.Wrapf(inference.ErrShape, "batch has %d channels, graph expects %d", c, p.channels)
	}
	data, err := inference.Float32Data(batch)
	if err != nil {
		return nil, err
	}

	in, err := ort.NewTensor(ort.NewShape(int64(n), int64(c), int64(h), int64(w)), data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create input tensor")
	}
	defer in.Destroy()

	p.mu.Lock()
	defer p.mu.Unlock()

	outputs := []ort.Value{nil}
	if err := p.session.Run([]ort.Value{in}, outputs); err != nil {
		return nil, errors.Wrap(err, "failed to run session")
	}
	defer outputs[0].Destroy()

	scores, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Wrapf(inference.ErrShape, "output %s is %T, want float32 tensor", p.output, outputs[0])
	}

	shape := scores.GetShape()
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	values := append([]float32(nil), scores.GetData()...)
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(values)), nil
}

// Close releases the native session.
func (p *Predictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	return err
}
