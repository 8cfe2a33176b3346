package config

import "testing"

func TestJobCacheRollback(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"", false},
		{"maybe", false},
		{"false", false},
		{"true", true},
		{"1", true},
	}
	for _, tt := range tests {
		t.Run("value="+tt.value, func(t *testing.T) {
			t.Setenv("JOB_CACHE_ROLLBACK", tt.value)
			if got := JobCacheRollback(); got != tt.want {
				t.Fatalf("JobCacheRollback() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJobPhotoMinimums(t *testing.T) {
	t.Setenv("JOB_MIN_START_PHOTOS", "0")
	t.Setenv("JOB_MIN_COMPLETION_PHOTOS", "5")
	if got := JobMinStartPhotos(); got != 3 {
		t.Fatalf("JobMinStartPhotos() = %d, want default 3", got)
	}
	if got := JobMinCompletionPhotos(); got != 5 {
		t.Fatalf("JobMinCompletionPhotos() = %d, want 5", got)
	}
}
