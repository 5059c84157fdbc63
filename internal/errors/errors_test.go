package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestSyncErrorError(t *testing.T) {
	tests := []struct {
		name string
		err  *SyncError
		want string
	}{
		{
			name: "without cause",
			err:  NewStorageError("bucket listing failed", nil),
			want: "STORAGE_ERROR: bucket listing failed",
		},
		{
			name: "with cause",
			err:  NewIOError("cannot read file", errors.New("permission denied")),
			want: "IO_ERROR: cannot read file (caused by: permission denied)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSyncErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := NewVerificationError("etag mismatch", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause in the chain")
	}
}

func TestIsKind(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind Kind
		want bool
	}{
		{"matching kind", NewStorageError("x", nil), KindStorage, true},
		{"different kind", NewStorageError("x", nil), KindIO, false},
		{"wrapped sync error", fmt.Errorf("run failed: %w", NewConfigurationError("bad rotate level", nil)), KindConfiguration, true},
		{"plain error", errors.New("x"), KindStorage, false},
		{"nil error", nil, KindStorage, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsKind(tt.err, tt.kind); got != tt.want {
				t.Errorf("IsKind() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsConfiguration(t *testing.T) {
	if !IsConfiguration(NewConfigurationError("missing bucket", nil)) {
		t.Error("expected configuration error to be detected")
	}
	if IsConfiguration(NewIOError("read failed", nil)) {
		t.Error("IO error should not be a configuration error")
	}
}

func TestWithContext(t *testing.T) {
	err := NewStorageError("upload failed", nil).
		WithContext("key", "backups/dbs-2024-06-02.sql.gz").
		WithContext("bucket", "test-bucket")

	if err.Context["key"] != "backups/dbs-2024-06-02.sql.gz" {
		t.Errorf("unexpected key context: %v", err.Context["key"])
	}
	if err.Context["bucket"] != "test-bucket" {
		t.Errorf("unexpected bucket context: %v", err.Context["bucket"])
	}
}

func TestGetKind(t *testing.T) {
	if kind := GetKind(NewVerificationError("x", nil)); kind != KindVerification {
		t.Errorf("GetKind() = %q, want %q", kind, KindVerification)
	}
	if kind := GetKind(errors.New("x")); kind != "" {
		t.Errorf("GetKind() on plain error = %q, want empty", kind)
	}
}
