package providers

import "strconv"

const (
	// OpenVINOProviderBackend uses Intel OpenVINO for inference optimization.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// OpenVINOOptions contains arguments for the OpenVINO provider.
// See:
// https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	DeviceID string `json:"deviceID"             yaml:"deviceID"`
	// Overrides the accelerator hardware type with these values at runtime. If this option is not
	// explicitly set, default hardware specified during build is used.
	DeviceType string `json:"deviceType"           yaml:"deviceType"`
	// FP32, FP16 or ACCURACY.
	Precision string `json:"precision"            yaml:"precision"`
	// Overrides the accelerator default value of number of threads with this value at runtime.
	NumOfThreads int `json:"numOfThreads"         yaml:"numOfThreads"`
	// This option enables rewriting dynamic shaped models to static shape at runtime and execute.
	DisableDynamicShapes bool `json:"disableDynamicShapes" yaml:"disableDynamicShapes"`
}

// Map returns the provider options as ONNX Runtime key/value pairs.
func (o OpenVINOOptions) Map() map[string]string {
	m := map[string]string{
		"disable_dynamic_shapes": strconv.FormatBool(o.DisableDynamicShapes),
	}
	if o.DeviceID != "" {
		m["device_id"] = o.DeviceID
	}
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	return m
}
