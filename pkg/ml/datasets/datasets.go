/*
 *	Copyright 2023 Jan Pfeifer
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package datasets defines the Dataset sequence interface consumed by the
// multihost pipeline, and utility datasets that can be combined for
// deterministic per-host loading: `Shard`, `Batch`, `Repeat`, `Take`,
// `InMemory`.
//
// A Dataset yields structured examples: a trees.Tree of named host tensors.
// End of stream is signaled with io.EOF. Restart semantics are explicit:
// Reset returns ErrNotRestartable for single-pass sources instead of silently
// replaying.
package datasets

import (
	"fmt"
	"io"

	"github.com/gomlx/meshdata/pkg/core/tensors"
	"github.com/gomlx/meshdata/pkg/core/trees"
	"github.com/pkg/errors"
)

// Example is one structured element of a dataset: named leaf tensors.
type Example = *trees.Tree[*tensors.Tensor]

// ErrNotRestartable is returned by Reset on single-pass sources.
var ErrNotRestartable = errors.New("dataset is single-pass and cannot be restarted")

// Dataset is a lazy sequence of structured examples.
//
// Implementations need not be safe for concurrent use: the multihost pipeline
// drives a Dataset from a single goroutine.
type Dataset interface {
	// Name identifies the dataset. Used for debugging, pretty-printing and error messages.
	Name() string

	// Reset restarts the dataset from the beginning. It is called after io.EOF
	// is reached when an epoch policy requires re-iteration. Single-pass
	// sources return ErrNotRestartable.
	Reset() error

	// Yield returns the next example, or io.EOF when the sequence is
	// exhausted. Any other error is a failure of the underlying source and is
	// not retried here.
	Yield() (Example, error)
}

// takeDataset implements a Dataset that only yields `take` examples.
type takeDataset struct {
	ds          Dataset
	count, take int
}

// Take returns a wrapper to `ds`, a Dataset that only yields `n` examples.
func Take(ds Dataset, n int) Dataset {
	return &takeDataset{
		ds:   ds,
		take: n,
	}
}

// Name implements Dataset.
func (ds *takeDataset) Name() string {
	return fmt.Sprintf("%s [Take %d]", ds.ds.Name(), ds.take)
}

// Reset implements Dataset.
func (ds *takeDataset) Reset() error {
	if err := ds.ds.Reset(); err != nil {
		return err
	}
	ds.count = 0
	return nil
}

// Yield implements Dataset.
func (ds *takeDataset) Yield() (Example, error) {
	if ds.count >= ds.take {
		return nil, io.EOF
	}
	ds.count++
	return ds.ds.Yield()
}
