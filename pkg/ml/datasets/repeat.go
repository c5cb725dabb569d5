package datasets

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// repeatDataset implements a Dataset that re-iterates the underlying dataset.
type repeatDataset struct {
	ds     Dataset
	epochs int // <= 0 means repeat forever.
	done   int
}

// Repeat returns a Dataset that re-iterates `ds` for the given number of
// epochs, resetting it at each boundary. epochs <= 0 repeats forever.
//
// If the underlying dataset is single-pass (Reset returns ErrNotRestartable),
// the stream simply ends at the first exhaustion, with a warning.
func Repeat(ds Dataset, epochs int) Dataset {
	return &repeatDataset{ds: ds, epochs: epochs}
}

// Name implements Dataset.
func (ds *repeatDataset) Name() string {
	if ds.epochs <= 0 {
		return fmt.Sprintf("%s [Repeat]", ds.ds.Name())
	}
	return fmt.Sprintf("%s [Repeat %d]", ds.ds.Name(), ds.epochs)
}

// Reset implements Dataset.
func (ds *repeatDataset) Reset() error {
	if err := ds.ds.Reset(); err != nil {
		return err
	}
	ds.done = 0
	return nil
}

// Yield implements Dataset.
func (ds *repeatDataset) Yield() (Example, error) {
	example, err := ds.ds.Yield()
	if err != io.EOF {
		return example, err
	}
	ds.done++
	if ds.epochs > 0 && ds.done >= ds.epochs {
		return nil, io.EOF
	}
	if err := ds.ds.Reset(); err != nil {
		if errors.Is(err, ErrNotRestartable) {
			klog.Warningf("dataset %q is single-pass, ending stream after %d epoch(s) instead of repeating",
				ds.ds.Name(), ds.done)
			return nil, io.EOF
		}
		return nil, err
	}
	example, err = ds.ds.Yield()
	if err == io.EOF {
		// Empty underlying dataset: don't spin on reset.
		return nil, io.EOF
	}
	return example, err
}
