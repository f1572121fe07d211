package remote

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Transient(t *testing.T) {
	tests := []struct {
		status    int
		transient bool
	}{
		{400, false},
		{404, false},
		{409, false},
		{429, true},
		{500, true},
		{502, true},
		{503, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := fmt.Errorf("dispatch: %w", &Error{Op: OpInsert, Status: tt.status})
			assert.Equal(t, tt.transient, IsTransient(err))
		})
	}
}

func TestIsTransient_OtherErrors(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("boom")))
	assert.False(t, IsTransient(context.Canceled))
}

func TestError_Message(t *testing.T) {
	assert.Equal(t, "remote Insert: status 503", (&Error{Op: OpInsert, Status: 503}).Error())
	assert.Equal(t, "remote Update: status 404: Order 7 not found", NotFound(OpUpdate, "Order %d not found", 7).Error())
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("wrap: %w", NotFound(OpUpdate, "gone"))))
	assert.False(t, IsNotFound(Unavailable(OpUpdate, "down")))
	assert.False(t, IsNotFound(errors.New("plain")))
}
