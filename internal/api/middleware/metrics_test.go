package middleware

import "testing"

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"/health/live", "/health/live"},
		{"/api/v1/files", "/api/v1/files"},
		{"/api/v1/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890", "/api/v1/files/{id}"},
		{"/api/v1/files/a1b2c3d4-e5f6-7890-abcd-ef1234567890/download", "/api/v1/files/{id}/download"},
		{"/api/files/file/a1b2c3d4-e5f6-7890-abcd-ef1234567890", "/api/files/file/{id}"},
		{"/api/v1/files/not-a-uuid", "/api/v1/files/not-a-uuid"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.input); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, ожидалось %q", tt.input, got, tt.want)
		}
	}
}
