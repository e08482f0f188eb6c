package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerify(t *testing.T) {
	tests := []struct {
		name      string
		pin       string
		presented string
		wantErr   error
	}{
		{name: "match", pin: "1234", presented: "1234", wantErr: nil},
		{name: "mismatch", pin: "1234", presented: "4321", wantErr: ErrInvalidPIN},
		{name: "empty presented", pin: "1234", presented: "", wantErr: ErrInvalidPIN},
		{name: "unconfigured", pin: "", presented: "1234", wantErr: ErrPINNotConfigured},
		{name: "unconfigured empty", pin: "", presented: "", wantErr: ErrPINNotConfigured},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewParentGate(tt.pin).Verify(tt.presented)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}
