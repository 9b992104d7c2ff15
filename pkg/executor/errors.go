package executor

import "errors"

// Sentinel errors.
var (
	// ErrMissingDependency is returned by New without a page or speaker.
	ErrMissingDependency = errors.New("executor: missing dependency")

	// ErrNothingToRead is returned when the page has no readable blocks.
	ErrNothingToRead = errors.New("executor: nothing to read")

	// ErrNotReading is returned by Pause when no read is active.
	ErrNotReading = errors.New("executor: not reading")

	// ErrNotPaused is returned by Resume when the read is not paused.
	ErrNotPaused = errors.New("executor: not paused")

	// ErrNoMoreBlocks is returned by Next on the last block.
	ErrNoMoreBlocks = errors.New("executor: no more blocks")

	// ErrAtStart is returned by Previous on the first block.
	ErrAtStart = errors.New("executor: already at the first block")
)
