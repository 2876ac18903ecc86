package store

import (
	"github.com/relabs-tech/dco_calibrator/internal/dco"
	"github.com/relabs-tech/dco_calibrator/internal/probe"
)

// segmentLink is the slice of the probe link the store needs.
type segmentLink interface {
	Dump() ([probe.SegmentBytes]byte, error)
	Burn(slots [NumSlots]dco.Slot) error
	Erase() error
	FactoryCal() (dco.Slot, error)
}

// Probe persists through the probe link into the target's information
// flash. With override set, Commit erases the segment before writing;
// otherwise it relies on the caller having verified emptiness, exactly
// like the firmware's non-override flash path.
type Probe struct {
	link     segmentLink
	override bool
}

// NewProbe wraps a probe link as a Store.
func NewProbe(link segmentLink, override bool) *Probe {
	return &Probe{link: link, override: override}
}

func (p *Probe) IsEmpty() (bool, error) {
	seg, err := p.link.Dump()
	if err != nil {
		return false, err
	}
	for _, s := range probe.SlotsFromSegment(seg) {
		if !s.Empty() {
			return false, nil
		}
	}
	return true, nil
}

func (p *Probe) Load() ([NumSlots]dco.Slot, error) {
	seg, err := p.link.Dump()
	if err != nil {
		return [NumSlots]dco.Slot{}, err
	}
	return probe.SlotsFromSegment(seg), nil
}

func (p *Probe) FactoryCal() (dco.Slot, error) {
	return p.link.FactoryCal()
}

func (p *Probe) Commit(slots [NumSlots]dco.Slot) error {
	if err := checkFactoryCal(p); err != nil {
		return err
	}
	if p.override {
		if err := p.link.Erase(); err != nil {
			return err
		}
	}
	return p.link.Burn(slots)
}
