//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/pkg/utils"
)

var ortInitMu sync.Mutex

// ONNXEncoder runs a CLIP image tower exported to ONNX. It requires CGO and the
// onnxruntime shared library.
type ONNXEncoder struct {
	session    *ort.AdvancedSession
	dimensions int
	imageSize  int
	device     Device
	// Pre-allocated tensors for Run(); we update input data and read output.
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	mu           sync.Mutex
}

// NewONNXEncoder loads the model selected by cfg (fine-tuned checkpoint first)
// and binds it to the configured or detected device.
func NewONNXEncoder(cfg *config.EmbeddingConfig, logger *zap.Logger) (*ONNXEncoder, error) {
	logger = utils.OrNop(logger)
	if err := initRuntime(cfg.RuntimeLibrary); err != nil {
		return nil, err
	}

	size := int64(cfg.ImageSize)
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tensor: %w", cfg.InputName, err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	device := ResolveDevice(cfg.Device)
	options, device, err := sessionOptions(device, logger)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, err
	}
	defer options.Destroy()

	modelPath := cfg.ResolvedModelPath()
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{cfg.InputName},
		[]string{cfg.OutputName},
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
		options,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session for %s: %w", modelPath, err)
	}
	logger.Info("vision encoder loaded",
		zap.String("model", modelPath),
		zap.String("device", string(device)),
		zap.Int("dimensions", cfg.Dimensions))

	return &ONNXEncoder{
		session:      session,
		dimensions:   cfg.Dimensions,
		imageSize:    cfg.ImageSize,
		device:       device,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

func initRuntime(library string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if library != "" {
		ort.SetSharedLibraryPath(library)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return nil
}

// sessionOptions appends the execution provider for device. A provider that
// cannot be attached falls back to CPU.
func sessionOptions(device Device, logger *zap.Logger) (*ort.SessionOptions, Device, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, DeviceCPU, fmt.Errorf("failed to create session options: %w", err)
	}
	switch device {
	case DeviceCUDA:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			err = options.AppendExecutionProviderCUDA(cudaOptions)
			cudaOptions.Destroy()
		}
		if err != nil {
			logger.Warn("CUDA provider unavailable, using CPU", zap.Error(err))
			device = DeviceCPU
		}
	case DeviceCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			logger.Warn("CoreML provider unavailable, using CPU", zap.Error(err))
			device = DeviceCPU
		}
	}
	return options, device, nil
}

// Encode returns the unit-norm embedding of img.
func (e *ONNXEncoder) Encode(ctx context.Context, img image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	pixels := Preprocess(img, e.imageSize)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return nil, fmt.Errorf("encoder is closed")
	}

	copy(e.inputTensor.GetData(), pixels)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	embedding := make([]float32, e.dimensions)
	copy(embedding, e.outputTensor.GetData())
	utils.NormalizeL2(embedding)
	return embedding, nil
}

// Dimensions returns the embedding dimension.
func (e *ONNXEncoder) Dimensions() int {
	return e.dimensions
}

// Device returns the execution target chosen at construction.
func (e *ONNXEncoder) Device() Device {
	return e.device
}

// Close destroys the session and tensors.
func (e *ONNXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var err error
	if e.session != nil {
		err = e.session.Destroy()
		e.session = nil
	}
	if e.inputTensor != nil {
		_ = e.inputTensor.Destroy()
		e.inputTensor = nil
	}
	if e.outputTensor != nil {
		_ = e.outputTensor.Destroy()
		e.outputTensor = nil
	}
	return err
}
