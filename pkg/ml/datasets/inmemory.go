package datasets

import (
	"io"
)

// inMemoryDataset is a restartable Dataset over a fixed slice of examples.
type inMemoryDataset struct {
	name     string
	examples []Example
	next     int
}

// InMemory creates a restartable Dataset that yields the given examples in
// order. The examples are not copied: they must not be mutated afterwards.
func InMemory(name string, examples ...Example) Dataset {
	return &inMemoryDataset{name: name, examples: examples}
}

// Name implements Dataset.
func (ds *inMemoryDataset) Name() string { return ds.name }

// Reset implements Dataset.
func (ds *inMemoryDataset) Reset() error {
	ds.next = 0
	return nil
}

// Yield implements Dataset.
func (ds *inMemoryDataset) Yield() (Example, error) {
	if ds.next >= len(ds.examples) {
		return nil, io.EOF
	}
	example := ds.examples[ds.next]
	ds.next++
	return example, nil
}
