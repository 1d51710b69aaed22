package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDevice(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    Device
		wantErr bool
	}{
		{name: "empty is cpu", in: "", want: CPU},
		{name: "cpu", in: "cpu", want: CPU},
		{name: "cuda without index", in: "cuda", want: Device{Backend: CUDAProviderBackend}},
		{name: "cuda with index", in: "cuda:3", want: Device{Backend: CUDAProviderBackend, ID: 3}},
		{name: "case and spaces", in: " CoreML ", want: Device{Backend: CoreMLProviderBackend}},
		{name: "openvino", in: "openvino:1", want: Device{Backend: OpenVINOProviderBackend, ID: 1}},
		{name: "unknown backend", in: "tpu:0", wantErr: true},
		{name: "bad index", in: "cuda:x", wantErr: true},
		{name: "negative index", in: "cuda:-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDevice(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDeviceString(t *testing.T) {
	assert.Equal(t, "cpu", CPU.String())
	assert.Equal(t, "cpu", Device{}.String())
	assert.Equal(t, "cuda:2", Device{Backend: CUDAProviderBackend, ID: 2}.String())

	d, err := ParseDevice(Device{Backend: OpenVINOProviderBackend, ID: 4}.String())
	require.NoError(t, err)
	assert.Equal(t, Device{Backend: OpenVINOProviderBackend, ID: 4}, d)
}

func TestForRank(t *testing.T) {
	assert.Equal(t, CPU, ForRank(CPUProviderBackend, 3))
	assert.Equal(t, CPU, ForRank("", 1))
	assert.Equal(t, Device{Backend: CUDAProviderBackend, ID: 3}, ForRank(CUDAProviderBackend, 3))
}

func TestCUDAOptionsMap(t *testing.T) {
	m := CUDAOptions{DeviceID: 1}.Map()
	assert.Equal(t, map[string]string{
		"device_id":                 "1",
		"do_copy_in_default_stream": "0",
		"use_tf32":                  "0",
	}, m)

	m = CUDAOptions{
		DeviceID:              0,
		GPUMemLimit:           2 << 30,
		ArenaExtendStrategy:   "kSameAsRequested",
		CudnnConvAlgoSearch:   "HEURISTIC",
		DoCopyInDefaultStream: true,
	}.Map()
	assert.Equal(t, "2147483648", m["gpu_mem_limit"])
	assert.Equal(t, "kSameAsRequested", m["arena_extend_strategy"])
	assert.Equal(t, "HEURISTIC", m["cudnn_conv_algo_search"])
	assert.Equal(t, "1", m["do_copy_in_default_stream"])
}

func TestCoreMLFlags(t *testing.T) {
	assert.Equal(t, uint32(0), CoreMLOptions{}.Flags())
	assert.Equal(t, uint32(0x001|0x010), CoreMLOptions{CPUOnly: true, MLProgram: true}.Flags())
	assert.Equal(t, uint32(0x002|0x004|0x008), CoreMLOptions{
		EnableOnSubgraphs:        true,
		OnlyANE:                  true,
		RequireStaticInputShapes: true,
	}.Flags())
}

func TestOpenVINOOptionsMap(t *testing.T) {
	m := OpenVINOOptions{DeviceType: "GPU", Precision: "FP16", NumOfThreads: 4}.Map()
	assert.Equal(t, map[string]string{
		"device_type":            "GPU",
		"precision":              "FP16",
		"num_of_threads":         "4",
		"disable_dynamic_shapes": "false",
	}, m)
}

func TestVisibleDevices(t *testing.T) {
	t.Setenv("CUDA_VISIBLE_DEVICES", "0,1, 3")
	n, ok := VisibleDevices()
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	t.Setenv("CUDA_VISIBLE_DEVICES", "")
	n, ok = VisibleDevices()
	assert.True(t, ok)
	assert.Equal(t, 0, n)
}

func TestGetSharedLibPathOverride(t *testing.T) {
	t.Setenv(SharedLibEnv, "/opt/ort/libonnxruntime.so")
	assert.Equal(t, "/opt/ort/libonnxruntime.so", GetSharedLibPath())
}

func TestConfigWithDevice(t *testing.T) {
	c := DefaultConfig()
	assert.Equal(t, CPU, c.Device)

	d := Device{Backend: CUDAProviderBackend, ID: 1}
	assert.Equal(t, d, c.WithDevice(d).Device)
	assert.Equal(t, CPU, c.Device)
}
