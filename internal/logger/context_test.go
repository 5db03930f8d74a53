package logger

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromContext(t *testing.T) {
	t.Run("Should return injected logger", func(t *testing.T) {
		// Arrange
		injected := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx := WithContext(context.Background(), injected)

		// Act
		got := FromContext(ctx)

		// Assert
		assert.Same(t, injected, got)
	})

	t.Run("Should fall back to default logger when none injected", func(t *testing.T) {
		// Act
		got := FromContext(context.Background())

		// Assert
		assert.Same(t, slog.Default(), got)
	})
}
