// Copyright 2025 The Pagetable Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package image reads and writes page-table image files.
//
// An image is a fixed 40-byte little-endian header followed by the raw
// arena bytes. A loader places the arena bytes at the header's base
// physical address and points CR3 at the header's root; no relocation
// is needed because node child pointers are physical addresses.
package image

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
	"pagetable.dev/pagetable/pkg/pagetables"
)

// Magic identifies a page-table image file.
var Magic = [8]byte{'P', 'T', 'I', 'M', 'G', '1'}

const (
	// Version is the current image format version.
	Version = 1

	// HeaderSize is the encoded size of Header in bytes.
	HeaderSize = 40
)

// Header is the fixed-size prefix of an image file.
type Header struct {
	// Magic tags the file as a page-table image.
	Magic [8]byte

	// Version is the format version the file was written with.
	Version uint32

	_ uint32

	// Base is the physical address the arena bytes must be loaded at.
	Base uint64

	// Root is the physical address of the root node. CR3 bits 51:12
	// point here.
	Root uint64

	// Size is the length of the arena bytes following the header.
	Size uint64
}

// Write writes the built tables to an image file at path. The write is
// atomic: bytes land in a temp file in the same directory which is then
// renamed over path. A .lock file next to the image serializes
// concurrent writers.
func Write(path string, b *pagetables.Builder, arena *pagetables.ArenaAllocator) error {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "locking %q", lock.Path())
	}
	defer lock.Unlock()

	hdr := Header{
		Magic:   Magic,
		Version: Version,
		Base:    uint64(arena.Base()),
		Root:    uint64(b.RootPhysical()),
		Size:    arena.Size(),
	}

	dir := filepath.Dir(path)
	tempFile, err := os.CreateTemp(dir, ".image-tmp-*")
	if err != nil {
		return errors.Wrapf(err, "creating temp image in %q", dir)
	}
	tempFileRenamed := false
	defer func() {
		_ = tempFile.Close()
		if !tempFileRenamed {
			_ = os.Remove(tempFile.Name())
		}
	}()

	if err := os.Chmod(tempFile.Name(), 0644); err != nil {
		return errors.Wrapf(err, "setting mode of %q", tempFile.Name())
	}
	if err := binary.Write(tempFile, binary.LittleEndian, &hdr); err != nil {
		return errors.Wrap(err, "writing image header")
	}
	if _, err := tempFile.Write(arena.Bytes()); err != nil {
		return errors.Wrap(err, "writing arena bytes")
	}
	if err := tempFile.Close(); err != nil {
		return errors.Wrapf(err, "closing %q", tempFile.Name())
	}
	if err := os.Rename(tempFile.Name(), path); err != nil {
		return errors.Wrapf(err, "renaming image into place at %q", path)
	}
	tempFileRenamed = true
	return nil
}

// ReadHeader reads and validates the header of the image at path. It
// also checks that the file holds exactly the arena bytes the header
// promises.
func ReadHeader(path string) (Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, err
	}
	defer f.Close()
	return readHeader(f)
}

// ReadArena reads the validated header and the arena bytes of the
// image at path.
func ReadArena(path string) (Header, []byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return Header{}, nil, err
	}
	defer f.Close()

	hdr, err := readHeader(f)
	if err != nil {
		return Header{}, nil, err
	}
	// readHeader leaves f positioned at the first arena byte.
	arena := make([]byte, hdr.Size)
	if _, err := io.ReadFull(f, arena); err != nil {
		return Header{}, nil, errors.Wrap(err, "reading arena bytes")
	}
	return hdr, arena, nil
}

func readHeader(f *os.File) (Header, error) {
	var hdr Header
	if err := binary.Read(f, binary.LittleEndian, &hdr); err != nil {
		return Header{}, errors.Wrap(err, "reading image header")
	}
	if hdr.Magic != Magic {
		return Header{}, errors.Errorf("bad magic %q", hdr.Magic[:])
	}
	if hdr.Version != Version {
		return Header{}, errors.Errorf("unsupported image version %d", hdr.Version)
	}
	st, err := f.Stat()
	if err != nil {
		return Header{}, err
	}
	if want := int64(HeaderSize) + int64(hdr.Size); st.Size() != want {
		return Header{}, errors.Errorf("image is %d bytes, header promises %d", st.Size(), want)
	}
	return hdr, nil
}
