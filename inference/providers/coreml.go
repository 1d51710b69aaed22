package providers

const (
	// CoreMLProviderBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLProviderBackend ProviderBackend = "coreml"
)

// CoreML provider flags, see coreml_provider_factory.h.
const (
	coreMLFlagUseCPUOnly          uint32 = 0x001
	coreMLFlagEnableOnSubgraph    uint32 = 0x002
	coreMLFlagOnlyEnableDeviceANE uint32 = 0x004
	coreMLFlagStaticInputShapes   uint32 = 0x008
	coreMLFlagCreateMLProgram     uint32 = 0x010
)

// CoreMLOptions contains arguments for the CoreML provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Limit CoreML to running on CPU only.
	CPUOnly bool `json:"cpuOnly"                  yaml:"cpuOnly"`
	// Enable CoreML EP to run on a subgraph in the body of a control flow operator.
	EnableOnSubgraphs bool `json:"enableOnSubgraphs"        yaml:"enableOnSubgraphs"`
	// Only enable CoreML on devices with an Apple Neural Engine.
	OnlyANE bool `json:"onlyANE"                  yaml:"onlyANE"`
	// Only allow nodes with static input shapes. Sliding-window crops at the
	// image border change shape, so this is usually left off.
	RequireStaticInputShapes bool `json:"requireStaticInputShapes" yaml:"requireStaticInputShapes"`
	// Create an MLProgram format model. Requires Core ML 5 or later.
	MLProgram bool `json:"mlProgram"                yaml:"mlProgram"`
}

// Flags returns the CoreML options as the provider's flag bitmask.
func (o CoreMLOptions) Flags() uint32 {
	var flags uint32
	if o.CPUOnly {
		flags |= coreMLFlagUseCPUOnly
	}
	if o.EnableOnSubgraphs {
		flags |= coreMLFlagEnableOnSubgraph
	}
	if o.OnlyANE {
		flags |= coreMLFlagOnlyEnableDeviceANE
	}
	if o.RequireStaticInputShapes {
		flags |= coreMLFlagStaticInputShapes
	}
	if o.MLProgram {
		flags |= coreMLFlagCreateMLProgram
	}
	return flags
}
