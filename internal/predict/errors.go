package predict

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrBatchTooLarge is returned when a batch exceeds the configured limit.
var ErrBatchTooLarge = errors.New("too many images in batch")

// InvalidInputError means the upload is not an image the service can
// decode. It is a client error and is never retried.
type InvalidInputError struct {
	Reason string
	Err    error
}

func (e *InvalidInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *InvalidInputError) Unwrap() error {
	return e.Err
}

// BatchItemError is the failure of one batch entry. It never affects the
// other entries.
type BatchItemError struct {
	Index    int
	Filename string
	Err      error
}

func (e *BatchItemError) Error() string {
	return fmt.Sprintf("batch item %d (%s): %v", e.Index, e.Filename, e.Err)
}

func (e *BatchItemError) Unwrap() error {
	return e.Err
}
