package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxConfig describes the model the session is built around.
type OnnxConfig struct {
	// Planes, Height, Width give the input tensor shape per position.
	Planes int
	Height int
	Width  int

	// PolicySize is the policy head length; policy-map models emit one
	// logit per action id.
	PolicySize  int
	IsPolicyMap bool

	// PlanesVersion is the input format the model expects.
	PlanesVersion int

	// InputName and output names as exported in the model graph.
	InputName  string
	PolicyName string
	ValueName  string
}

func (c *OnnxConfig) applyDefaults() {
	if c.InputName == "" {
		c.InputName = "input"
	}
	if c.PolicyName == "" {
		c.PolicyName = "policy"
	}
	if c.ValueName == "" {
		c.ValueName = "value"
	}
}

// OnnxEvaluator runs a model through ONNX Runtime. One evaluator may be
// shared by several workers; Run calls are serialized by the session lock
// so each worker's mini-batch goes through as a single inference.
type OnnxEvaluator struct {
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
	cfg     OnnxConfig
}

var ortInitOnce sync.Once
var ortInitErr error

// NewOnnxEvaluator loads the model at modelPath and prepares a dynamic
// session sized at call time by the worker's mini-batch.
func NewOnnxEvaluator(modelPath string, cfg OnnxConfig) (*OnnxEvaluator, error) {
	cfg.applyDefaults()

	if runtime.GOOS == "linux" {
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else {
			cwd, _ := os.Getwd()
			candidates := []string{
				"libonnxruntime.so",
				"libonnxruntime.so.1",
			}
			for _, name := range candidates {
				abs := filepath.Join(cwd, name)
				if _, err := os.Stat(abs); err == nil {
					ort.SetSharedLibraryPath(abs)
					break
				}
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("failed to init ort: %w", ortInitErr)
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// the workers provide the parallelism; keep the runtime single-threaded
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	cudaOptions, err := ort.NewCUDAProviderOptions()
	if err == nil {
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			fmt.Println("Failed to append CUDA provider:", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{cfg.InputName}, []string{cfg.PolicyName, cfg.ValueName}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &OnnxEvaluator{session: session, cfg: cfg}, nil
}

func (e *OnnxEvaluator) Close() error {
	return e.session.Destroy()
}

func (e *OnnxEvaluator) NumInputValues() int {
	return e.cfg.Planes * e.cfg.Height * e.cfg.Width
}

func (e *OnnxEvaluator) PolicySize() int { return e.cfg.PolicySize }

func (e *OnnxEvaluator) IsPolicyMap() bool { return e.cfg.IsPolicyMap }

func (e *OnnxEvaluator) Version() int { return e.cfg.PlanesVersion }

func (e *OnnxEvaluator) PredictBatch(planes []float32, batch int, values []float32, policies []float32) error {
	if batch <= 0 {
		return nil
	}
	if len(planes) < batch*e.NumInputValues() {
		return fmt.Errorf("input buffer holds %d floats, batch needs %d", len(planes), batch*e.NumInputValues())
	}

	inputShape := []int64{int64(batch), int64(e.cfg.Planes), int64(e.cfg.Height), int64(e.cfg.Width)}
	inputTensor, err := ort.NewTensor(ort.NewShape(inputShape...), planes[:batch*e.NumInputValues()])
	if err != nil {
		return fmt.Errorf("create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), int64(e.cfg.PolicySize)))
	if err != nil {
		return fmt.Errorf("create policy tensor: %w", err)
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch), 1))
	if err != nil {
		return fmt.Errorf("create value tensor: %w", err)
	}
	defer valueTensor.Destroy()

	e.mu.Lock()
	err = e.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor})
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("run inference: %w", err)
	}

	copy(policies, policyTensor.GetData())
	copy(values, valueTensor.GetData())
	return nil
}
