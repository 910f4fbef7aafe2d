//go:build !((linux || darwin) && cgo)

package bridge

// DynamicLoader is unavailable without cgo on linux or darwin.
type DynamicLoader struct{}

// NewDynamicLoader returns a loader that always fails.
func NewDynamicLoader() *DynamicLoader {
	return &DynamicLoader{}
}

// Load returns ErrUnsupported.
func (l *DynamicLoader) Load(path string) (Module, error) {
	return nil, ErrUnsupported
}
