package providers

import (
	"strconv"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// CUDAProviderBackend uses NVIDIA CUDA for inference optimization.
	CUDAProviderBackend ProviderBackend = "cuda"
)

// CUDAOptions contains arguments for the CUDA provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html#configuration-options
type CUDAOptions struct {
	// The device ID.
	DeviceID int `json:"deviceID"              yaml:"deviceID"`
	// The size limit of the device memory arena in bytes. Zero means no limit.
	GPUMemLimit int64 `json:"gpuMemLimit"           yaml:"gpuMemLimit"`
	// The strategy for extending the device memory arena.
	// kNextPowerOfTwo or kSameAsRequested.
	ArenaExtendStrategy string `json:"arenaExtendStrategy"   yaml:"arenaExtendStrategy"`
	// The type of search done for cuDNN convolution algorithms.
	// EXHAUSTIVE, HEURISTIC or DEFAULT.
	CudnnConvAlgoSearch string `json:"cudnnConvAlgoSearch"   yaml:"cudnnConvAlgoSearch"`
	// Whether to do copies in the default stream or use separate streams.
	DoCopyInDefaultStream bool `json:"doCopyInDefaultStream" yaml:"doCopyInDefaultStream"`
	// TF32 math mode on Ampere and newer. Changes numerics slightly.
	UseTF32 bool `json:"useTF32"               yaml:"useTF32"`
}

// Map returns the provider options as ONNX Runtime key/value pairs. Unset
// fields are omitted so the runtime defaults apply.
func (o CUDAOptions) Map() map[string]string {
	m := map[string]string{
		"device_id":                 strconv.Itoa(o.DeviceID),
		"do_copy_in_default_stream": boolFlag(o.DoCopyInDefaultStream),
		"use_tf32":                  boolFlag(o.UseTF32),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	if o.ArenaExtendStrategy != "" {
		m["arena_extend_strategy"] = o.ArenaExtendStrategy
	}
	if o.CudnnConvAlgoSearch != "" {
		m["cudnn_conv_algo_search"] = o.CudnnConvAlgoSearch
	}
	return m
}

// ToNativeProviderOptions converts the CUDA options to a CUDA provider options.
// The caller must Destroy the result.
func (o CUDAOptions) ToNativeProviderOptions() (*ort.CUDAProviderOptions, error) {
	opts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return nil, err
	}
	if err := opts.Update(o.Map()); err != nil {
		opts.Destroy()
		return nil, err
	}
	return opts, nil
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
