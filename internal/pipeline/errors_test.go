package pipeline

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFatalMarksError(t *testing.T) {
	base := errors.New("broken document")
	assert.True(t, IsFatal(Fatal(base)))
	assert.False(t, IsFatal(base))
	assert.Nil(t, Fatal(nil))
}

func TestFatalSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("action ocr: %w", Fatalf("language %q not installed", "kl"))
	assert.True(t, IsFatal(err))
	assert.Contains(t, err.Error(), "not installed")
}

func TestFatalUnwraps(t *testing.T) {
	base := errors.New("root cause")
	assert.ErrorIs(t, Fatal(base), base)
}
