package translate

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Placeholder is the text delivered when translation is impossible.
// Translation failure must never block message delivery.
func Placeholder(lang string) string {
	return fmt.Sprintf("[translation unavailable for %s]", lang)
}

// Gateway wraps a Translator with a bounded wait and a failure fallback.
type Gateway struct {
	translator Translator
	timeout    time.Duration
	logger     *zap.Logger
}

// NewGateway creates a Gateway. Every call is bounded by timeout.
func NewGateway(t Translator, timeout time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{translator: t, timeout: timeout, logger: logger}
}

// Translate returns the translated text and true, or the placeholder and
// false when the backend fails or times out. Callers cache only successful
// results.
func (g *Gateway) Translate(ctx context.Context, text, targetLang string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	out, err := g.translator.Translate(ctx, text, targetLang)
	if err != nil {
		g.logger.Warn("translation failed, using placeholder",
			zap.String("target", targetLang), zap.Error(err))
		return Placeholder(targetLang), false
	}
	return out, true
}
