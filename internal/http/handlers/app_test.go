package handlers

import (
	"net/http"
	"testing"

	"genflow/internal/domain"
)

func TestStatusForCode(t *testing.T) {
	tests := []struct {
		code domain.ErrorCode
		want int
	}{
		{domain.CodeInvalidParams, http.StatusBadRequest},
		{domain.CodeContentViolation, http.StatusUnprocessableEntity},
		{domain.CodeTimeout, http.StatusGatewayTimeout},
		{domain.CodeAPIError, http.StatusBadGateway},
		{domain.CodeProcessingFailed, http.StatusInternalServerError},
		{domain.CodeUnknown, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusForCode(tt.code); got != tt.want {
			t.Fatalf("StatusForCode(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}
