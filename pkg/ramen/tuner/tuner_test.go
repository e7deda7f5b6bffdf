package tuner

import (
	"runtime"
	"testing"
)

const gib = 1024 * 1024 * 1024

func TestDetect(t *testing.T) {
	resources, err := Detect()
	if err != nil {
		t.Fatalf("Detect() returned error: %v", err)
	}

	if resources.CPUCores != runtime.NumCPU() {
		t.Errorf("CPUCores = %d, want %d (runtime.NumCPU())", resources.CPUCores, runtime.NumCPU())
	}

	minRAM := int64(128 * 1024 * 1024)
	if resources.TotalRAM < minRAM {
		t.Errorf("TotalRAM = %d bytes, want >= %d bytes", resources.TotalRAM, minRAM)
	}

	if resources.AvailableRAM <= 0 {
		t.Errorf("AvailableRAM = %d, want > 0", resources.AvailableRAM)
	}
	if resources.AvailableRAM > resources.TotalRAM {
		t.Errorf("AvailableRAM (%d) > TotalRAM (%d)", resources.AvailableRAM, resources.TotalRAM)
	}
}

func TestCalculate(t *testing.T) {
	tests := []struct {
		name           string
		resources      SystemResources
		wantWorkers    int
		wantValidators int
		wantCommit     int
	}{
		{
			name:           "small system (2 cores, 4GB RAM)",
			resources:      SystemResources{CPUCores: 2, TotalRAM: 4 * gib, AvailableRAM: 2 * gib},
			wantWorkers:    8,
			wantValidators: 16,
			// 2GiB * 0.05 / 1KiB / 8 workers
			wantCommit: 13107,
		},
		{
			name:           "memory bound (16 cores, 1GB free)",
			resources:      SystemResources{CPUCores: 16, TotalRAM: 2 * gib, AvailableRAM: 1 * gib},
			wantWorkers:    4,
			wantValidators: 128,
			wantCommit:     13107,
		},
		{
			name:           "large system (64 cores, 256GB RAM)",
			resources:      SystemResources{CPUCores: 64, TotalRAM: 256 * gib, AvailableRAM: 128 * gib},
			wantWorkers:    64,
			wantValidators: 128,
			wantCommit:     100000,
		},
		{
			name:           "tiny system (1 core, 128MB free)",
			resources:      SystemResources{CPUCores: 1, TotalRAM: gib / 4, AvailableRAM: gib / 8},
			wantWorkers:    2,
			wantValidators: 8,
			wantCommit:     3276,
		},
		{
			name:           "unknown memory",
			resources:      SystemResources{CPUCores: 4},
			wantWorkers:    16,
			wantValidators: 32,
			wantCommit:     1000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Calculate(tt.resources)
			if got.Workers != tt.wantWorkers {
				t.Errorf("Workers = %d, want %d", got.Workers, tt.wantWorkers)
			}
			if got.ValidateConcurrency != tt.wantValidators {
				t.Errorf("ValidateConcurrency = %d, want %d", got.ValidateConcurrency, tt.wantValidators)
			}
			if got.CommitEvery != tt.wantCommit {
				t.Errorf("CommitEvery = %d, want %d", got.CommitEvery, tt.wantCommit)
			}
		})
	}
}

func TestCalculateWithOverrides(t *testing.T) {
	resources := SystemResources{CPUCores: 8, TotalRAM: 16 * gib, AvailableRAM: 8 * gib}

	t.Run("zero keeps calculated value", func(t *testing.T) {
		if got, want := CalculateWithOverrides(resources, 0), Calculate(resources); got != want {
			t.Errorf("CalculateWithOverrides(0) = %+v, want %+v", got, want)
		}
	})

	t.Run("override replaces workers", func(t *testing.T) {
		got := CalculateWithOverrides(resources, 3)
		if got.Workers != 3 {
			t.Errorf("Workers = %d, want 3", got.Workers)
		}
		if want := calculateCommitEvery(resources.AvailableRAM, 3); got.CommitEvery != want {
			t.Errorf("CommitEvery = %d, want %d", got.CommitEvery, want)
		}
	})

	t.Run("override is capped", func(t *testing.T) {
		if got := CalculateWithOverrides(resources, 1000); got.Workers != maxWorkers {
			t.Errorf("Workers = %d, want %d", got.Workers, maxWorkers)
		}
	})
}
