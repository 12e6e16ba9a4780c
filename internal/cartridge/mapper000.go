package cartridge

// Mapper000 implements NROM (mapper 0), the simplest cartridge mapper: no
// bank switching, 16 or 32 KiB of PRG-ROM, 8 KiB of CHR-ROM or CHR-RAM, and
// an optional 8 KiB PRG-RAM window.
type Mapper000 struct {
	cart     *Cartridge
	prgBanks uint8
}

// NewMapper000 constructs the NROM mapper for cart.
func NewMapper000(cart *Cartridge) *Mapper000 {
	return &Mapper000{
		cart:     cart,
		prgBanks: uint8(len(cart.prgROM) / 0x4000),
	}
}

// ReadPRG implements spec.md §4.2's CPU-side PRG map: $6000-$7FFF is PRG-RAM,
// $8000-$FFFF is PRG-ROM, mirrored every 16 KiB when only one bank is present.
func (m *Mapper000) ReadPRG(address uint16) uint8 {
	switch {
	case address >= 0x8000:
		offset := address - 0x8000
		if m.prgBanks == 1 {
			offset &= 0x3FFF
		}
		if int(offset) < len(m.cart.prgROM) {
			return m.cart.prgROM[offset]
		}
		return 0
	case address >= 0x6000:
		return m.cart.sram[address-0x6000]
	default:
		return 0
	}
}

// WritePRG writes to PRG-RAM; writes into ROM space are ignored.
func (m *Mapper000) WritePRG(address uint16, value uint8) {
	if address >= 0x6000 && address < 0x8000 {
		m.cart.sram[address-0x6000] = value
	}
}

// ReadCHR reads the 8 KiB pattern-table space ($0000-$1FFF on the PPU bus).
func (m *Mapper000) ReadCHR(address uint16) uint8 {
	if address < 0x2000 && int(address) < len(m.cart.chrROM) {
		return m.cart.chrROM[address]
	}
	return 0
}

// WriteCHR writes pattern-table data. Writes are only honored when the
// cartridge declared CHR-RAM (header CHR-bank count of 0); CHR-ROM writes
// are ignored.
func (m *Mapper000) WriteCHR(address uint16, value uint8) {
	if !m.cart.hasCHRRAM {
		return
	}
	if address < 0x2000 && int(address) < len(m.cart.chrROM) {
		m.cart.chrROM[address] = value
	}
}
