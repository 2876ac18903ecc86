package store

import "github.com/relabs-tech/dco_calibrator/internal/dco"

// Memory is a RAM-only store: the TEST_MODE of the original firmware.
// Nothing ever reaches the target's flash.
type Memory struct {
	slots   [NumSlots]dco.Slot
	factory dco.Slot
	Commits int // committed run count, readable by tests
}

// NewMemory creates an erased in-memory store with a valid factory
// calibration.
func NewMemory() *Memory {
	m := &Memory{factory: dco.Slot{0x86, 0x8D}}
	for i := range m.slots {
		m.slots[i] = dco.Slot{dco.EmptyByte, dco.EmptyByte}
	}
	return m
}

// SetFactoryCal overrides the factory pair (tests use it to blank it).
func (m *Memory) SetFactoryCal(cal dco.Slot) { m.factory = cal }

func (m *Memory) IsEmpty() (bool, error) {
	for _, s := range m.slots {
		if !s.Empty() {
			return false, nil
		}
	}
	return true, nil
}

func (m *Memory) Load() ([NumSlots]dco.Slot, error) {
	return m.slots, nil
}

func (m *Memory) FactoryCal() (dco.Slot, error) {
	return m.factory, nil
}

func (m *Memory) Commit(slots [NumSlots]dco.Slot) error {
	if err := checkFactoryCal(m); err != nil {
		return err
	}
	m.slots = slots
	m.Commits++
	return nil
}
