package providers

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// SharedLibEnv overrides the ONNX Runtime shared library location.
const SharedLibEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

var (
	initOnce sync.Once
	initErr  error
)

// GetSharedLibPath returns the path to the shared library for the current platform.
//
// Returns:
//   - string: The path to the shared library.
func GetSharedLibPath() string {
	if p := os.Getenv(SharedLibEnv); p != "" {
		return p
	}
	switch runtime.GOOS {
	case "windows":
		return "./third_party/onnxruntime.dll"
	case "darwin":
		return "./third_party/libonnxruntime.dylib"
	default:
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so"
		}
		return "./third_party/onnxruntime.so"
	}
}

// InitializeRuntime loads the ONNX Runtime shared library and prepares its
// environment. Only the first call does work; later calls return its result.
//
// Returns:
//   - error: The error if the library is missing or fails to load.
func InitializeRuntime() error {
	initOnce.Do(func() {
		libPath := GetSharedLibPath()
		if _, err := os.Stat(libPath); err != nil {
			initErr = errors.Wrapf(err, "onnx runtime library not found at %s (set %s)", libPath, SharedLibEnv)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = errors.Wrap(err, "error initializing onnx runtime environment")
		}
	})
	return initErr
}

// VisibleDevices returns the number of devices listed in CUDA_VISIBLE_DEVICES.
// ok is false when the variable is unset.
func VisibleDevices() (n int, ok bool) {
	v, ok := os.LookupEnv("CUDA_VISIBLE_DEVICES")
	if !ok {
		return 0, false
	}
	for _, id := range strings.Split(v, ",") {
		if strings.TrimSpace(id) != "" {
			n++
		}
	}
	return n, true
}
