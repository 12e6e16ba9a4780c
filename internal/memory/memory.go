// Package memory implements the CPU and PPU address-space decode for the
// NES emulation core: RAM mirroring, PPU/APU register windows, cartridge
// pass-through, nametable mirroring, and palette RAM folding.
package memory

import "nescore/internal/cartridge"

// Memory is the CPU-side bus: $0000-$FFFF decode across RAM, PPU registers,
// APU/IO registers, and cartridge space.
type Memory struct {
	ram [0x800]uint8

	ppuRegisters PPUInterface
	apuRegisters APUInterface
	inputSystem  InputInterface
	cartridge    CartridgeInterface

	dmaCallback func(uint8)

	// openBusValue holds the last byte read from the bus, returned for
	// unmapped addresses per real NES open-bus behavior.
	openBusValue uint8
}

// PPUMemory is the PPU-side bus: $0000-$3FFF decode across pattern tables,
// nametables (mirrored per cartridge.MirrorMode), and palette RAM.
type PPUMemory struct {
	vram       [0x1000]uint8
	paletteRAM [32]uint8
	cartridge  CartridgeInterface
	mirroring  cartridge.MirrorMode
}

// MirrorMode is an alias for the cartridge package's mirroring type so this
// package never maintains a second, divergent copy of it.
type MirrorMode = cartridge.MirrorMode

const (
	MirrorHorizontal = cartridge.MirrorHorizontal
	MirrorVertical    = cartridge.MirrorVertical
	MirrorFourScreen  = cartridge.MirrorFourScreen
)

// PPUInterface defines the interface for PPU register access.
type PPUInterface interface {
	ReadRegister(address uint16) uint8
	WriteRegister(address uint16, value uint8)
}

// APUInterface defines the interface for APU register access.
type APUInterface interface {
	WriteRegister(address uint16, value uint8)
	ReadStatus() uint8
}

// InputInterface defines the interface for controller port access.
type InputInterface interface {
	Read(address uint16) uint8
	Write(address uint16, value uint8)
}

// CartridgeInterface defines the interface the memory bus needs from a
// loaded cartridge's mapper; satisfied directly by cartridge.Mapper.
type CartridgeInterface interface {
	ReadPRG(address uint16) uint8
	WritePRG(address uint16, value uint8)
	ReadCHR(address uint16) uint8
	WriteCHR(address uint16, value uint8)
}

// New constructs the CPU-side bus. RAM starts zeroed, matching Go's default
// zero value for an array — the NES's actual power-up RAM contents are
// undefined and untested by any property this core implements.
func New(ppu PPUInterface, apu APUInterface, cart CartridgeInterface) *Memory {
	return &Memory{
		ppuRegisters: ppu,
		apuRegisters: apu,
		cartridge:    cart,
	}
}

// SetInputSystem wires a controller port interface into the bus.
func (m *Memory) SetInputSystem(input InputInterface) {
	m.inputSystem = input
}

// SetDMACallback installs the OAMDMA trigger, invoked on a $4014 write.
func (m *Memory) SetDMACallback(callback func(uint8)) {
	m.dmaCallback = callback
}

// Read reads a byte from the CPU's address space, per spec.md §3's bus map.
func (m *Memory) Read(address uint16) uint8 {
	var value uint8

	switch {
	case address < 0x2000:
		value = m.ram[address&0x07FF]

	case address < 0x4000:
		value = m.ppuRegisters.ReadRegister(0x2000 + (address & 0x0007))

	case address < 0x4020:
		switch {
		case address == 0x4015:
			value = m.apuRegisters.ReadStatus()
		case address == 0x4016 || address == 0x4017:
			if m.inputSystem != nil {
				value = m.inputSystem.Read(address)
			} else {
				value = 0
			}
		default:
			value = m.openBusValue
		}

	case address >= 0x6000 && address < 0x8000:
		if m.cartridge != nil {
			value = m.cartridge.ReadPRG(address)
		} else {
			value = m.openBusValue
		}

	case address < 0x8000:
		value = m.openBusValue

	default:
		if m.cartridge != nil {
			value = m.cartridge.ReadPRG(address)
		} else {
			value = m.openBusValue
		}
	}

	m.openBusValue = value
	return value
}

// Write writes a byte into the CPU's address space.
func (m *Memory) Write(address uint16, value uint8) {
	switch {
	case address < 0x2000:
		m.ram[address&0x07FF] = value

	case address < 0x4000:
		m.ppuRegisters.WriteRegister(0x2000+(address&0x0007), value)

	case address < 0x4020:
		switch {
		case address == 0x4014:
			if m.dmaCallback != nil {
				m.dmaCallback(value)
			} else {
				m.performOAMDMA(value)
			}
		case address == 0x4016:
			if m.inputSystem != nil {
				m.inputSystem.Write(address, value)
			}
		case address >= 0x4000 && address <= 0x4013, address == 0x4015, address == 0x4017:
			m.apuRegisters.WriteRegister(address, value)
		}
		// $4018-$401F (APU/IO test registers) are unimplemented, writes ignored.

	case address >= 0x6000 && address < 0x8000:
		if m.cartridge != nil {
			m.cartridge.WritePRG(address, value)
		}

	case address < 0x8000:
		// Cartridge expansion space, unmapped for mapper 0.

	default:
		if m.cartridge != nil {
			m.cartridge.WritePRG(address, value)
		}
	}
}

// performOAMDMA is the fallback DMA path used when no callback has been
// installed (exercised directly by tests; bus.System always installs its
// own callback so it can charge the CPU the 513/514-cycle stall).
func (m *Memory) performOAMDMA(page uint8) {
	baseAddress := uint16(page) << 8
	for i := uint16(0); i < 256; i++ {
		value := m.Read(baseAddress + i)
		m.ppuRegisters.WriteRegister(0x2004, value)
	}
}

// NewPPUMemory constructs the PPU-side bus for the given cartridge and
// mirroring arrangement.
func NewPPUMemory(cart CartridgeInterface, mirroring cartridge.MirrorMode) *PPUMemory {
	mem := &PPUMemory{
		cartridge: cart,
		mirroring: mirroring,
	}
	for i := 0; i < 32; i += 4 {
		mem.paletteRAM[i] = 0x0F
	}
	return mem
}

// Read reads from the $0000-$3FFF PPU address space.
func (pm *PPUMemory) Read(address uint16) uint8 {
	address &= 0x3FFF

	switch {
	case address < 0x2000:
		return pm.cartridge.ReadCHR(address)
	case address < 0x3000:
		return pm.readNametable(address)
	case address < 0x3F00:
		return pm.readNametable(address - 0x1000)
	default:
		return pm.readPalette(address)
	}
}

// Write writes to the $0000-$3FFF PPU address space.
func (pm *PPUMemory) Write(address uint16, value uint8) {
	address &= 0x3FFF

	switch {
	case address < 0x2000:
		pm.cartridge.WriteCHR(address, value)
	case address < 0x3000:
		pm.writeNametable(address, value)
	case address < 0x3F00:
		pm.writeNametable(address-0x1000, value)
	default:
		pm.writePalette(address, value)
	}
}

func (pm *PPUMemory) readNametable(address uint16) uint8 {
	return pm.vram[pm.getNametableIndex(address)]
}

func (pm *PPUMemory) writeNametable(address uint16, value uint8) {
	pm.vram[pm.getNametableIndex(address)] = value
}

// getNametableIndex maps a $2000-$2FFF address onto the 2 KiB (or, for
// four-screen, 4 KiB) of physical nametable VRAM per the cartridge's
// declared mirroring arrangement (spec.md §3).
func (pm *PPUMemory) getNametableIndex(address uint16) uint16 {
	address &= 0x0FFF
	nametable := (address >> 10) & 3
	offset := address & 0x3FF

	switch pm.mirroring {
	case cartridge.MirrorHorizontal:
		if nametable >= 2 {
			return 0x400 + offset
		}
		return offset

	case cartridge.MirrorVertical:
		if nametable == 1 || nametable == 3 {
			return 0x400 + offset
		}
		return offset

	case cartridge.MirrorFourScreen:
		return uint16(nametable)*0x400 + offset

	default:
		return offset
	}
}

// readPalette reads palette RAM, folding the four background-color mirror
// slots ($10/$14/$18/$1C) onto their canonical entries ($00/$04/$08/$0C).
func (pm *PPUMemory) readPalette(address uint16) uint8 {
	index := (address - 0x3F00) & 0x1F
	if index&0x03 == 0 && index >= 0x10 {
		index &= 0x0F
	}
	return pm.paletteRAM[index]
}

// writePalette writes palette RAM with the same background-color fold as
// readPalette.
func (pm *PPUMemory) writePalette(address uint16, value uint8) {
	index := (address - 0x3F00) & 0x1F
	if index&0x03 == 0 && index >= 0x10 {
		index &= 0x0F
	}
	pm.paletteRAM[index] = value
}
