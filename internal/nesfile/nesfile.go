// Package nesfile is the public load surface for NES ROM images: a thin
// wrapper over internal/cartridge that re-exports its error taxonomy so
// callers outside the cartridge package never need to import it directly
// just to type-switch on a load failure.
package nesfile

import (
	"io"

	"nescore/internal/cartridge"
)

// ErrorKind enumerates the ways a ROM image can fail to load, per spec.md §6.
type ErrorKind = cartridge.LoadErrorKind

const (
	UnrecognizedFormat = cartridge.UnrecognizedFormat
	Truncated          = cartridge.Truncated
	UnsupportedMapper  = cartridge.UnsupportedMapper
	IoError            = cartridge.IoError
)

// LoadError is the typed error returned from Load/Open on failure.
type LoadError = cartridge.LoadError

// Cartridge is a loaded, immutable NES ROM image ready to attach to a bus.
type Cartridge = cartridge.Cartridge

// Load reads and parses a ROM image from path.
func Load(path string) (*Cartridge, error) {
	return cartridge.LoadFromFile(path)
}

// Open reads and parses a ROM image from an already-open reader.
func Open(r io.Reader) (*Cartridge, error) {
	return cartridge.LoadFromReader(r)
}
