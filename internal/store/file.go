package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/relabs-tech/dco_calibrator/internal/dco"
)

// segmentSize is one information flash segment.
const segmentSize = 64

// File keeps a segment-B image on disk for bench runs without a target
// attached. The image uses the real segment layout, so a DUMP from a
// live target drops straight in.
type File struct {
	path    string
	factory dco.Slot
}

// NewFile opens (or creates, erased) a segment image. The factory
// calibration pair is supplied by the caller since segment A is not
// part of the image.
func NewFile(path string, factory dco.Slot) (*File, error) {
	f := &File{path: path, factory: factory}

	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		blank := make([]byte, segmentSize)
		for i := range blank {
			blank[i] = dco.EmptyByte
		}
		if err := os.WriteFile(path, blank, 0o644); err != nil {
			return nil, fmt.Errorf("store: create segment image: %w", err)
		}
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: stat segment image: %w", err)
	}
	return f, nil
}

func (f *File) read() ([]byte, error) {
	img, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("store: read segment image: %w", err)
	}
	if len(img) != segmentSize {
		return nil, fmt.Errorf("store: segment image is %d bytes, want %d", len(img), segmentSize)
	}
	return img, nil
}

func (f *File) IsEmpty() (bool, error) {
	img, err := f.read()
	if err != nil {
		return false, err
	}
	for _, addr := range SlotAddrs {
		off := addr - SegmentBase
		if img[off] != dco.EmptyByte || img[off+1] != dco.EmptyByte {
			return false, nil
		}
	}
	return true, nil
}

func (f *File) Load() ([NumSlots]dco.Slot, error) {
	var slots [NumSlots]dco.Slot
	img, err := f.read()
	if err != nil {
		return slots, err
	}
	for i, addr := range SlotAddrs {
		off := addr - SegmentBase
		slots[i] = dco.Slot{img[off], img[off+1]}
	}
	return slots, nil
}

func (f *File) FactoryCal() (dco.Slot, error) {
	return f.factory, nil
}

func (f *File) Commit(slots [NumSlots]dco.Slot) error {
	if err := checkFactoryCal(f); err != nil {
		return err
	}
	img, err := f.read()
	if err != nil {
		return err
	}
	for i, addr := range SlotAddrs {
		off := addr - SegmentBase
		img[off] = slots[i][0]
		img[off+1] = slots[i][1]
	}
	if err := os.WriteFile(f.path, img, 0o644); err != nil {
		return fmt.Errorf("store: write segment image: %w", err)
	}
	return nil
}
