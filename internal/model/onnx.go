package model

import (
	"context"
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

// Runtime owns the process-wide ONNX Runtime environment. It is initialized
// on first use so that a missing shared library only disables the ONNX
// tiers.
type Runtime struct {
	libraryPath string
	wantDevice  string
	log         *logrus.Entry

	once    sync.Once
	initErr error
	device  string
}

// NewRuntime prepares, but does not start, the ONNX Runtime environment.
// device is auto, cpu or cuda.
func NewRuntime(libraryPath, device string, log *logrus.Entry) *Runtime {
	if libraryPath == "" {
		libraryPath = defaultLibraryPath()
	}
	return &Runtime{libraryPath: libraryPath, wantDevice: device, log: log, device: "cpu"}
}

// Init starts the environment and picks the execution device, once.
func (rt *Runtime) Init() error {
	rt.once.Do(func() {
		if rt.libraryPath != "" {
			ort.SetSharedLibraryPath(rt.libraryPath)
		}
		if !ort.IsInitialized() {
			if err := ort.InitializeEnvironment(); err != nil {
				rt.initErr = errors.Wrap(err, "initialize ONNX environment")
				return
			}
		}
		rt.log.WithField("version", ort.GetVersion()).Info("ONNX Runtime initialized")

		if rt.wantDevice == "cpu" {
			return
		}
		if err := probeCUDA(); err != nil {
			entry := rt.log.WithError(err)
			if rt.wantDevice == "cuda" {
				entry.Warn("CUDA requested but unavailable, using cpu")
			} else {
				entry.Debug("CUDA unavailable, using cpu")
			}
			return
		}
		rt.device = "cuda"
	})
	return rt.initErr
}

// Device is the execution device sessions are created on.
func (rt *Runtime) Device() string {
	return rt.device
}

// Close tears down the environment if it was started.
func (rt *Runtime) Close() error {
	if ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// Metadata looks up custom metadata entries stored in the model file.
// Missing keys are absent from the result.
func (rt *Runtime) Metadata(path string, keys ...string) (map[string]string, error) {
	if err := rt.Init(); err != nil {
		return nil, err
	}
	meta, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, errors.Wrap(err, "read model metadata")
	}
	defer meta.Destroy()

	values := make(map[string]string, len(keys))
	for _, key := range keys {
		value, ok, err := meta.LookupCustomMetadataMap(key)
		if err != nil {
			return nil, errors.Wrapf(err, "lookup metadata %q", key)
		}
		if ok {
			values[key] = value
		}
	}
	return values, nil
}

// Open creates a session for a single-input model at path.
func (rt *Runtime) Open(path string) (*onnxRunner, error) {
	if err := rt.Init(); err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, errors.Wrap(err, "inspect model")
	}
	if len(inputs) != 1 {
		return nil, errors.Errorf("model has %d inputs, want 1", len(inputs))
	}
	if len(outputs) == 0 {
		return nil, errors.New("model has no outputs")
	}
	dtype, err := dtypeOf(inputs[0].DataType)
	if err != nil {
		return nil, err
	}

	outputNames := make([]string, len(outputs))
	outputShapes := make([][]int64, len(outputs))
	for i, o := range outputs {
		outputNames[i] = o.Name
		outputShapes[i] = []int64(o.Dimensions)
	}

	options, err := rt.sessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, outputNames, options)
	if err != nil {
		return nil, errors.Wrap(err, "create ONNX session")
	}

	return &onnxRunner{
		session:      session,
		inputType:    dtype,
		outputCount:  len(outputNames),
		outputShapes: outputShapes,
	}, nil
}

func (rt *Runtime) sessionOptions() (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "create session options")
	}
	if rt.device != "cuda" {
		return options, nil
	}
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "create CUDA options")
	}
	defer cuda.Destroy()
	if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
		options.Destroy()
		return nil, errors.Wrap(err, "enable CUDA")
	}
	return options, nil
}

func probeCUDA() error {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return err
	}
	defer options.Destroy()
	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cuda.Destroy()
	return options.AppendExecutionProviderCUDA(cuda)
}

// onnxRunner is a Runner over an ONNX Runtime session. Sessions accept
// concurrent Run calls.
type onnxRunner struct {
	session      *ort.DynamicAdvancedSession
	inputType    DType
	outputCount  int
	outputShapes [][]int64
}

var _ Runner = (*onnxRunner)(nil)

func (r *onnxRunner) InputType() DType {
	return r.inputType
}

// OutputShape is the declared shape of the first output; dynamic
// dimensions are negative.
func (r *onnxRunner) OutputShape() []int64 {
	return r.outputShapes[0]
}

func (r *onnxRunner) Run(ctx context.Context, in Input) ([]Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if in.DType != r.inputType {
		return nil, &DTypeMismatchError{Got: in.DType, Want: r.inputType}
	}

	input, err := newOrtInput(in)
	if err != nil {
		return nil, errors.Wrap(err, "create input tensor")
	}
	defer input.Destroy()

	outputs := make([]ort.Value, r.outputCount)
	if err := r.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, err
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	tensors := make([]Tensor, 0, len(outputs))
	for _, o := range outputs {
		t, err := tensorFromValue(o)
		if err != nil {
			return nil, err
		}
		tensors = append(tensors, t)
	}
	return tensors, nil
}

func (r *onnxRunner) Close() error {
	if r.session != nil {
		return r.session.Destroy()
	}
	return nil
}

func newOrtInput(in Input) (ort.Value, error) {
	shape := ort.NewShape(in.Shape...)
	switch in.DType {
	case Float32:
		t, err := ort.NewTensor(shape, in.Data)
		if err != nil {
			return nil, err
		}
		return t, nil
	case Float64:
		data := make([]float64, len(in.Data))
		for i, v := range in.Data {
			data[i] = float64(v)
		}
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, err
		}
		return t, nil
	case Float16:
		t, err := ort.NewCustomDataTensor(shape, float16Bytes(in.Data), ort.TensorElementDataTypeFloat16)
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		return nil, errors.Errorf("unsupported input dtype %s", in.DType)
	}
}

func tensorFromValue(v ort.Value) (Tensor, error) {
	shape := append([]int64(nil), v.GetShape()...)
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return Tensor{Shape: shape, Data: append([]float32(nil), t.GetData()...)}, nil
	case *ort.Tensor[float64]:
		src := t.GetData()
		data := make([]float32, len(src))
		for i, x := range src {
			data[i] = float32(x)
		}
		return Tensor{Shape: shape, Data: data}, nil
	case *ort.CustomDataTensor:
		return Tensor{Shape: shape, Data: float16Values(t.GetData())}, nil
	default:
		return Tensor{}, errors.Errorf("unsupported output value %T", v)
	}
}

func dtypeOf(t ort.TensorElementDataType) (DType, error) {
	switch t {
	case ort.TensorElementDataTypeFloat:
		return Float32, nil
	case ort.TensorElementDataTypeFloat16:
		return Float16, nil
	case ort.TensorElementDataTypeDouble:
		return Float64, nil
	default:
		return 0, errors.Errorf("unsupported model input type %v", t)
	}
}

// defaultLibraryPath returns the bundled ONNX Runtime library for this
// platform, or "" to let the loader search the system paths.
func defaultLibraryPath() string {
	var candidate string
	switch runtime.GOOS {
	case "windows":
		candidate = "./third_party/onnxruntime.dll"
	case "darwin":
		candidate = "./third_party/onnxruntime_arm64.dylib"
	case "linux":
		candidate = "./third_party/onnxruntime.so"
		if runtime.GOARCH == "arm64" {
			candidate = "./third_party/onnxruntime_arm64.so"
		}
	}
	if candidate == "" {
		return ""
	}
	if _, err := os.Stat(candidate); err != nil {
		return ""
	}
	return candidate
}
