package gpurt

import "errors"

// Error taxonomy (spec §7). Each sentinel corresponds to one severity level;
// callers use errors.Is to classify a failure without parsing strings.
var (
	// ErrInvalidConfig covers bad init parameters (zero-resolution window,
	// NativeWindowHandle without WindowSize). Fatal at init. Out-of-range
	// sizes are clamped rather than rejected. SwapchainPresent on a headless
	// runtime also returns it.
	ErrInvalidConfig = errors.New("gpurt: invalid configuration")

	// ErrBackendInit covers adapter/device/queue/heap creation failure.
	// Fatal at init.
	ErrBackendInit = errors.New("gpurt: backend initialization failed")

	// ErrOutOfMemory is returned when the GPU heap allocator is exhausted.
	ErrOutOfMemory = errors.New("gpurt: gpu heap exhausted")

	// ErrStagingOverflow is returned when a ring heap's safe offset would be
	// overtaken by the requested allocation.
	ErrStagingOverflow = errors.New("gpurt: staging heap overflow")

	// ErrInvalidHandle is returned for a destroyed or generation-mismatched
	// handle.
	ErrInvalidHandle = errors.New("gpurt: invalid handle")

	// ErrKernelCompile covers source, reflection, or validation failure
	// during kernel compilation.
	ErrKernelCompile = errors.New("gpurt: kernel compilation failed")

	// ErrContractViolation covers launch-param size mismatch, a zero
	// workgroup count, a malformed RW-texture resolution rule, a timestamp
	// destination out of heap bounds, a download ticket size mismatch, or a
	// ticket queried before it is ready. Barrier calls do not check the
	// heap state and never report it.
	ErrContractViolation = errors.New("gpurt: contract violation")

	// ErrBackendRuntime covers present failure, fence wait failure, or
	// device removal detected after init. Logged; best-effort continuation.
	ErrBackendRuntime = errors.New("gpurt: backend runtime failure")
)
