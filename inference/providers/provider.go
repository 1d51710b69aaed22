// Package providers - ONNX Runtime execution providers and device selection.
package providers

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ErrDeviceUnavailable is returned when the requested execution provider
// cannot be enabled on this host.
var ErrDeviceUnavailable = errors.New("device unavailable")

// ProviderBackend represents different ONNX Runtime execution providers.
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
)

// Backends is a list of all supported backends.
var Backends = []ProviderBackend{
	CPUProviderBackend,
	CUDAProviderBackend,
	CoreMLProviderBackend,
	OpenVINOProviderBackend,
}

// Device is an execution provider bound to a device index.
type Device struct {
	Backend ProviderBackend `json:"backend" yaml:"backend"`
	ID      int             `json:"id"      yaml:"id"`
}

// CPU is the always-available fallback device.
var CPU = Device{Backend: CPUProviderBackend}

// String formats the device as "backend:id", or "cpu" for the CPU.
func (d Device) String() string {
	if d.Backend == CPUProviderBackend || d.Backend == "" {
		return string(CPUProviderBackend)
	}
	return string(d.Backend) + ":" + strconv.Itoa(d.ID)
}

// ParseDevice parses "cpu", "cuda", "cuda:1", "coreml" or "openvino:0".
//
// Arguments:
//   - s: The device string.
//
// Returns:
//   - Device: The parsed device.
//   - error: The error if the backend is unknown or the index is invalid.
func ParseDevice(s string) (Device, error) {
	name, index, hasIndex := strings.Cut(strings.ToLower(strings.TrimSpace(s)), ":")
	if name == "" {
		return CPU, nil
	}

	d := Device{Backend: ProviderBackend(name)}
	known := false
	for _, b := range Backends {
		if b == d.Backend {
			known = true
			break
		}
	}
	if !known {
		return Device{}, errors.Errorf("unsupported backend %q", name)
	}

	if hasIndex {
		id, err := strconv.Atoi(index)
		if err != nil || id < 0 {
			return Device{}, errors.Errorf("invalid device index %q in %q", index, s)
		}
		d.ID = id
	}
	return d, nil
}

// ForRank binds the backend to the device index of a process rank.
func ForRank(backend ProviderBackend, rank int) Device {
	if backend == CPUProviderBackend || backend == "" {
		return CPU
	}
	return Device{Backend: backend, ID: rank}
}

// Config represents the session configuration for a device.
type Config struct {
	// Device is the execution provider and device index.
	Device Device `json:"device" yaml:"device"`
	// IntraOpNumThreads sets threads for parallelizing ops. Zero lets the
	// runtime decide.
	IntraOpNumThreads int `json:"intra_op_num_threads" yaml:"intra_op_num_threads"`
	// InterOpNumThreads sets threads for parallelizing independent ops.
	InterOpNumThreads int `json:"inter_op_num_threads" yaml:"inter_op_num_threads"`
	// CUDA configures the CUDA provider. DeviceID is taken from Device.
	CUDA CUDAOptions `json:"cuda" yaml:"cuda"`
	// CoreML configures the CoreML provider.
	CoreML CoreMLOptions `json:"coreml" yaml:"coreml"`
	// OpenVINO configures the OpenVINO provider. DeviceID is taken from Device.
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino"`
}

// DefaultConfig returns a CPU configuration.
func DefaultConfig() Config {
	return Config{Device: CPU}
}

// WithDevice returns a copy of the configuration bound to d.
func (c Config) WithDevice(d Device) Config {
	c.Device = d
	return c
}

// SessionOptions creates ONNX Runtime session options for the configured
// device. The caller owns the returned options and must Destroy them.
//
// Arguments:
//   - c: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: Configured session options.
//   - error: ErrDeviceUnavailable if the provider cannot be appended.
func SessionOptions(c Config) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session options")
	}

	if err := configure(options, c); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func configure(options *ort.SessionOptions, c Config) error {
	if err := options.SetIntraOpNumThreads(c.IntraOpNumThreads); err != nil {
		return errors.Wrap(err, "failed to set intra-op threads")
	}
	if err := options.SetInterOpNumThreads(c.InterOpNumThreads); err != nil {
		return errors.Wrap(err, "failed to set inter-op threads")
	}

	switch c.Device.Backend {
	case CPUProviderBackend, "":
		return nil
	case CUDAProviderBackend:
		opts := c.CUDA
		opts.DeviceID = c.Device.ID
		cuda, err := opts.ToNativeProviderOptions()
		if err != nil {
			return errors.Wrapf(ErrDeviceUnavailable, "%s: %v", c.Device, err)
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrapf(ErrDeviceUnavailable, "%s: %v", c.Device, err)
		}
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(c.CoreML.Flags()); err != nil {
			return errors.Wrapf(ErrDeviceUnavailable, "%s: %v", c.Device, err)
		}
	case OpenVINOProviderBackend:
		opts := c.OpenVINO
		opts.DeviceID = strconv.Itoa(c.Device.ID)
		if err := options.AppendExecutionProviderOpenVINO(opts.Map()); err != nil {
			return errors.Wrapf(ErrDeviceUnavailable, "%s: %v", c.Device, err)
		}
	default:
		return errors.Errorf("unsupported backend %q", c.Device.Backend)
	}
	return nil
}
