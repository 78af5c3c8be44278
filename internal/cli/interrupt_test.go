package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewInterruptHandler(t *testing.T) {
	handler := NewInterruptHandler(nil)
	assert.NotNil(t, handler.writer)
	assert.False(t, handler.WasInterrupted())
}

func TestInterruptHandler_Interrupt(t *testing.T) {
	var buf bytes.Buffer
	handler := NewInterruptHandler(&buf)

	handler.interrupt()
	handler.interrupt()

	assert.True(t, handler.WasInterrupted())
	assert.Equal(t, 1, bytes.Count(buf.Bytes(), []byte("Reconciliation interrupted!")))
	assert.Contains(t, buf.String(), "tally suggest")
}

func TestHandleInterrupts_ParentCancel(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	handler := NewInterruptHandler(&bytes.Buffer{})

	ctx, stop := handler.HandleInterrupts(parent)
	defer stop()
	cancel()

	<-ctx.Done()
	assert.False(t, handler.WasInterrupted())
}
