package tuner

// Worker configuration limits.
const (
	// maxWorkers caps concurrent target scans.
	maxWorkers = 64

	// minWorkers keeps a slow host from stalling the whole run.
	minWorkers = 2

	// maxValidators caps concurrent target validations.
	maxValidators = 128

	// minValidators is the floor for concurrent validations.
	minValidators = 8

	// minCommitEvery and maxCommitEvery bound the entries buffered per commit.
	minCommitEvery = 1000
	maxCommitEvery = 100000
)

// Memory-based sizing constants.
const (
	// bytesPerWorker estimates what one scan holds: protocol buffers,
	// listing caches and its pending write batch.
	bytesPerWorker = 64 << 20

	// workerMemoryFraction is the fraction of available RAM given to workers.
	workerMemoryFraction = 0.25

	// bytesPerEntry estimates one buffered record.
	bytesPerEntry = 1024

	// batchMemoryFraction is the fraction of available RAM used by pending
	// write batches across all workers.
	batchMemoryFraction = 0.05
)

// OptimalConfig contains tuned crawl settings for the detected resources.
type OptimalConfig struct {
	// Workers is the number of targets scanned concurrently.
	Workers int

	// ValidateConcurrency is the number of targets validated concurrently.
	ValidateConcurrency int

	// CommitEvery is the number of entries written between commits.
	CommitEvery int
}

// Calculate returns optimal configuration based on system resources.
//
// Scans wait on the network far more than on the CPU, so Workers starts at
// NumCPU * 4 and is then bounded by how many scans fit in a quarter of the
// available RAM. Validation is a handful of short requests per target and
// runs wider still.
func Calculate(resources SystemResources) OptimalConfig {
	workers := resources.CPUCores * 4
	if resources.AvailableRAM > 0 {
		workers = min(workers, int(float64(resources.AvailableRAM)*workerMemoryFraction/bytesPerWorker))
	}
	workers = max(workers, minWorkers)
	workers = min(workers, maxWorkers)

	validators := resources.CPUCores * 8
	validators = max(validators, minValidators)
	validators = min(validators, maxValidators)

	return OptimalConfig{
		Workers:             workers,
		ValidateConcurrency: validators,
		CommitEvery:         calculateCommitEvery(resources.AvailableRAM, workers),
	}
}

// CalculateWithOverrides applies user overrides to the optimal config.
// If workerOverride is greater than 0, it replaces Workers (still
// respecting the maximum cap) and CommitEvery is recomputed for it.
func CalculateWithOverrides(resources SystemResources, workerOverride int) OptimalConfig {
	config := Calculate(resources)

	if workerOverride > 0 {
		config.Workers = min(workerOverride, maxWorkers)
		config.CommitEvery = calculateCommitEvery(resources.AvailableRAM, config.Workers)
	}

	return config
}

// calculateCommitEvery determines how many entries one worker buffers.
func calculateCommitEvery(availableRAM int64, workers int) int {
	batchMemory := float64(availableRAM) * batchMemoryFraction
	entries := int(batchMemory / bytesPerEntry)

	perWorker := entries / max(workers, 1)
	perWorker = max(perWorker, minCommitEvery)
	perWorker = min(perWorker, maxCommitEvery)

	return perWorker
}
