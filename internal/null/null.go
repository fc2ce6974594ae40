// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Null package does nothing but correctly.
package null

// Null implementation of the ioproxy ReadWriterAt. Useful for measuring raw
// performance of the proxy and the workload harness without the store.
// Otherwise useless. It is contained in the same module to avoid
// duplication in harness code and configuration. It can also serve as a
// template for a new backend implementation since it is an implementation
// of the ReadWriterAt interface.
type null struct {
}

func NewNull() *null {
	return &null{}
}

func (n *null) ReadAt(p []byte, off int64) (int, error) {
	return len(p), nil
}

func (n *null) WriteAt(p []byte, off int64) (int, error) {
	return len(p), nil
}
