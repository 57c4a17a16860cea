//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/pkg/utils"
)

var ortInitMu sync.Mutex

// initRuntime initializes the onnxruntime environment once per process.
func initRuntime(libraryPath string) error {
	ortInitMu.Lock()
	defer ortInitMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return ort.InitializeEnvironment()
}

// CLIPEmbedder runs the CLIP image and text encoders with ONNX Runtime. Either encoder
// may be missing; calls for that modality then return ErrModelUnavailable.
type CLIPEmbedder struct {
	dimensions    int
	contextLength int
	imageSize     int
	preprocess    PreprocessMode
	tokenizer     *Tokenizer
	cache         *EmbeddingCache
	image         *imageEncoder
	text          *textEncoder
	logger        *zap.Logger
}

// imageEncoder owns a session with preallocated tensors; Run() is serialised by mu.
type imageEncoder struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

type textEncoder struct {
	mu       sync.Mutex
	session  *ort.AdvancedSession
	inputIDs *ort.Tensor[int64]
	mask     *ort.Tensor[int64]
	output   *ort.Tensor[float32]
}

// NewCLIPEmbedder resolves the tokenizer (the only fatal condition) and loads whichever
// encoders exist at the configured paths.
func NewCLIPEmbedder(ctx context.Context, cfg config.ModelConfig, logger *zap.Logger) (*CLIPEmbedder, error) {
	logger = utils.OrNop(logger)
	mode, err := ParsePreprocessMode(cfg.Preprocess)
	if err != nil {
		return nil, err
	}
	tok, err := ResolveTokenizer(ctx, cfg.TokenizerDir, cfg.TokenizerRemote, nil, logger)
	if err != nil {
		return nil, err
	}

	e := &CLIPEmbedder{
		dimensions:    cfg.Dimensions,
		contextLength: cfg.ContextLength,
		imageSize:     cfg.ImageSize,
		preprocess:    mode,
		tokenizer:     tok,
		cache:         NewEmbeddingCache(cfg.CacheSize),
		logger:        logger,
	}

	if err := initRuntime(cfg.RuntimeLibrary); err != nil {
		logger.Error("onnxruntime unavailable, encoders disabled", zap.Error(err))
		return e, nil
	}

	if fileExists(cfg.ImageModelPath) {
		e.image, err = newImageEncoder(cfg)
		if err != nil {
			logger.Error("failed to load image encoder", zap.String("path", cfg.ImageModelPath), zap.Error(err))
		}
	} else {
		logger.Warn("image encoder not found", zap.String("path", cfg.ImageModelPath))
	}
	if fileExists(cfg.TextModelPath) {
		e.text, err = newTextEncoder(cfg)
		if err != nil {
			logger.Error("failed to load text encoder", zap.String("path", cfg.TextModelPath), zap.Error(err))
		}
	} else {
		logger.Warn("text encoder not found", zap.String("path", cfg.TextModelPath))
	}
	return e, nil
}

func newImageEncoder(cfg config.ModelConfig) (*imageEncoder, error) {
	size := int64(cfg.ImageSize)
	input, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, size, size))
	if err != nil {
		return nil, fmt.Errorf("failed to create %s tensor: %w", cfg.ImageInput, err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions)))
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		cfg.ImageModelPath,
		[]string{cfg.ImageInput},
		[]string{cfg.ImageOutput},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &imageEncoder{session: session, input: input, output: output}, nil
}

func newTextEncoder(cfg config.ModelConfig) (*textEncoder, error) {
	shape := ort.NewShape(1, int64(cfg.ContextLength))
	inputIDs, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	mask, err := ort.NewEmptyTensor[int64](shape)
	if err != nil {
		inputIDs.Destroy()
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions)))
	if err != nil {
		inputIDs.Destroy()
		mask.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		cfg.TextModelPath,
		cfg.TextInputs,
		[]string{cfg.TextOutput},
		bindTextInputs[ort.ArbitraryTensor](cfg.TextInputs, inputIDs, mask),
		[]ort.ArbitraryTensor{output},
		nil,
	)
	if err != nil {
		inputIDs.Destroy()
		mask.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}
	return &textEncoder{session: session, inputIDs: inputIDs, mask: mask, output: output}, nil
}

// bindTextInputs orders the session inputs to match names. Models exported without an
// attention mask take input_ids only.
func bindTextInputs[T any](names []string, inputIDs, mask T) []T {
	inputs := make([]T, 0, len(names))
	for _, name := range names {
		if name == "attention_mask" {
			inputs = append(inputs, mask)
		} else {
			inputs = append(inputs, inputIDs)
		}
	}
	return inputs
}

// EmbedText returns the unit-norm embedding of the cleaned text, using the cache when possible.
func (e *CLIPEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	cleaned := CleanText(text)
	if cleaned == "" {
		return nil, ErrEmptyText
	}
	if cached, ok := e.cache.Get(cleaned); ok {
		return cached, nil
	}
	if e.text == nil {
		return nil, fmt.Errorf("%w: text encoder", ErrModelUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, mask := e.tokenizer.Encode(cleaned, e.contextLength)

	e.text.mu.Lock()
	copy(e.text.inputIDs.GetData(), ids)
	copy(e.text.mask.GetData(), mask)
	err := e.text.session.Run()
	var vec []float32
	if err == nil {
		vec, err = finalize(e.text.output.GetData(), e.dimensions)
	}
	e.text.mu.Unlock()
	if err != nil {
		e.logger.Error("text embedding failed", zap.String("op", "embed_text"), zap.Error(err))
		return nil, fmt.Errorf("text inference: %w", err)
	}

	e.cache.Set(cleaned, vec)
	return vec, nil
}

// EmbedImage returns the unit-norm embedding of the image at path.
func (e *CLIPEmbedder) EmbedImage(ctx context.Context, path string) ([]float32, error) {
	if e.image == nil {
		return nil, fmt.Errorf("%w: image encoder", ErrModelUnavailable)
	}
	img, _, err := LoadImage(path)
	if err != nil {
		return nil, err
	}
	pixels := PixelValues(img, e.imageSize, e.preprocess)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.image.mu.Lock()
	copy(e.image.input.GetData(), pixels)
	err = e.image.session.Run()
	var vec []float32
	if err == nil {
		vec, err = finalize(e.image.output.GetData(), e.dimensions)
	}
	e.image.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("image inference: %w", err)
	}
	return vec, nil
}

// Dimensions returns the embedding dimension.
func (e *CLIPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close destroys the sessions and tensors.
func (e *CLIPEmbedder) Close() error {
	var err error
	if e.image != nil {
		e.image.mu.Lock()
		err = e.image.session.Destroy()
		_ = e.image.input.Destroy()
		_ = e.image.output.Destroy()
		e.image.mu.Unlock()
		e.image = nil
	}
	if e.text != nil {
		e.text.mu.Lock()
		if terr := e.text.session.Destroy(); err == nil {
			err = terr
		}
		_ = e.text.inputIDs.Destroy()
		_ = e.text.mask.Destroy()
		_ = e.text.output.Destroy()
		e.text.mu.Unlock()
		e.text = nil
	}
	return err
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
