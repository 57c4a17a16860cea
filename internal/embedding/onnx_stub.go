//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/hyperjump/shashin/internal/config"
)

// CLIPEmbedder stub type when built without CGO (see onnx.go for real implementation).
type CLIPEmbedder struct{}

// NewCLIPEmbedder returns an error when built without CGO (ONNX not available).
func NewCLIPEmbedder(_ context.Context, _ config.ModelConfig, _ *zap.Logger) (*CLIPEmbedder, error) {
	return nil, errors.New("CLIP embedder requires CGO; build with CGO_ENABLED=1 and onnxruntime")
}

func (e *CLIPEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return nil, ErrModelUnavailable
}

func (e *CLIPEmbedder) EmbedImage(context.Context, string) ([]float32, error) {
	return nil, ErrModelUnavailable
}

func (e *CLIPEmbedder) Dimensions() int { return 0 }

func (e *CLIPEmbedder) Close() error { return nil }
