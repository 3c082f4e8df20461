package pkgio

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
)

// Close closes all the given closers, collecting the errors of the
// ones that failed instead of stopping at the first.
func Close(closers ...io.Closer) error {
	var err error
	for i, closer := range closers {
		if cErr := closer.Close(); cErr != nil {
			err = multierror.Append(err, fmt.Errorf("error closing %d-th closer: %w", i, cErr))
		}
	}
	return err
}
