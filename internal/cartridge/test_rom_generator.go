package cartridge

import (
	"bytes"
	"fmt"
)

// TestROMBuilder assembles minimal iNES images in memory for tests that need
// a cartridge without a fixture file on disk.

// TestROMConfig represents configuration for test ROM generation
type TestROMConfig struct {
	PRGSize      uint8            // PRG ROM size in 16KB units
	CHRSize      uint8            // CHR ROM size in 8KB units (0 = CHR RAM)
	MapperID     uint8            // Mapper number
	Mirroring    MirrorMode       // Nametable mirroring
	HasBattery   bool             // Battery-backed SRAM
	HasTrainer   bool             // 512-byte trainer
	Instructions []uint8          // 6502 assembly instructions
	InitialData  map[uint16]uint8 // Initial data at specific ROM addresses
	ResetVector  uint16           // Reset vector address
	IRQVector    uint16           // IRQ vector address
	NMIVector    uint16           // NMI vector address
	CHRData      []uint8          // CHR ROM/RAM initial data
	TrainerData  []uint8          // Trainer data (if HasTrainer is true)
	Description  string           // Description of the test ROM
}

// TestROMBuilder provides a fluent interface for building test ROMs
type TestROMBuilder struct {
	config TestROMConfig
}

// NewTestROMBuilder creates a new test ROM builder with default configuration
func NewTestROMBuilder() *TestROMBuilder {
	return &TestROMBuilder{
		config: TestROMConfig{
			PRGSize:      1,
			CHRSize:      1,
			MapperID:     0,
			Mirroring:    MirrorHorizontal,
			HasBattery:   false,
			HasTrainer:   false,
			Instructions: []uint8{},
			InitialData:  make(map[uint16]uint8),
			ResetVector:  0x8000,
			IRQVector:    0x8000,
			NMIVector:    0x8000,
			CHRData:      []uint8{},
			TrainerData:  []uint8{},
			Description:  "Generated test ROM",
		},
	}
}

// WithPRGSize sets the PRG ROM size in 16KB units
func (b *TestROMBuilder) WithPRGSize(size uint8) *TestROMBuilder {
	b.config.PRGSize = size
	return b
}

// WithCHRSize sets the CHR ROM size in 8KB units (0 = CHR RAM)
func (b *TestROMBuilder) WithCHRSize(size uint8) *TestROMBuilder {
	b.config.CHRSize = size
	return b
}

// WithCHRRAM configures the ROM to use CHR RAM instead of CHR ROM
func (b *TestROMBuilder) WithCHRRAM() *TestROMBuilder {
	b.config.CHRSize = 0
	return b
}

// WithMapper sets the mapper ID
func (b *TestROMBuilder) WithMapper(mapperID uint8) *TestROMBuilder {
	b.config.MapperID = mapperID
	return b
}

// WithMirroring sets the nametable mirroring mode
func (b *TestROMBuilder) WithMirroring(mirroring MirrorMode) *TestROMBuilder {
	b.config.Mirroring = mirroring
	return b
}

// WithBattery enables battery-backed SRAM
func (b *TestROMBuilder) WithBattery() *TestROMBuilder {
	b.config.HasBattery = true
	return b
}

// WithTrainer adds a 512-byte trainer
func (b *TestROMBuilder) WithTrainer(data []uint8) *TestROMBuilder {
	b.config.HasTrainer = true
	if len(data) > 512 {
		data = data[:512]
	}
	b.config.TrainerData = make([]uint8, 512)
	copy(b.config.TrainerData, data)
	return b
}

// WithInstructions sets the 6502 assembly instructions
func (b *TestROMBuilder) WithInstructions(instructions []uint8) *TestROMBuilder {
	b.config.Instructions = make([]uint8, len(instructions))
	copy(b.config.Instructions, instructions)
	return b
}

// WithData sets initial data at specific ROM addresses
func (b *TestROMBuilder) WithData(address uint16, data []uint8) *TestROMBuilder {
	for i, value := range data {
		b.config.InitialData[address+uint16(i)] = value
	}
	return b
}

// WithResetVector sets the reset vector
func (b *TestROMBuilder) WithResetVector(address uint16) *TestROMBuilder {
	b.config.ResetVector = address
	return b
}

// WithIRQVector sets the IRQ vector
func (b *TestROMBuilder) WithIRQVector(address uint16) *TestROMBuilder {
	b.config.IRQVector = address
	return b
}

// WithNMIVector sets the NMI vector
func (b *TestROMBuilder) WithNMIVector(address uint16) *TestROMBuilder {
	b.config.NMIVector = address
	return b
}

// WithCHRData sets the CHR ROM/RAM data
func (b *TestROMBuilder) WithCHRData(data []uint8) *TestROMBuilder {
	b.config.CHRData = make([]uint8, len(data))
	copy(b.config.CHRData, data)
	return b
}

// WithDescription sets the description
func (b *TestROMBuilder) WithDescription(description string) *TestROMBuilder {
	b.config.Description = description
	return b
}

// Build generates the ROM data based on the current configuration
func (b *TestROMBuilder) Build() ([]byte, error) {
	return GenerateTestROM(b.config)
}

// BuildCartridge generates and loads the ROM as a cartridge
func (b *TestROMBuilder) BuildCartridge() (*Cartridge, error) {
	romData, err := b.Build()
	if err != nil {
		return nil, err
	}

	reader := bytes.NewReader(romData)
	return LoadFromReader(reader)
}

// GenerateTestROM creates a ROM file based on the provided configuration
func GenerateTestROM(config TestROMConfig) ([]byte, error) {
	// Create iNES header
	header, err := createINESHeader(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create iNES header: %w", err)
	}

	result := append([]byte{}, header...)

	// Add trainer if specified
	if config.HasTrainer {
		trainer := make([]uint8, 512)
		if len(config.TrainerData) > 0 {
			copy(trainer, config.TrainerData)
		}
		result = append(result, trainer...)
	}

	// Create PRG ROM
	prgROM, err := createPRGROM(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create PRG ROM: %w", err)
	}
	result = append(result, prgROM...)

	// Create CHR ROM if specified
	if config.CHRSize > 0 {
		chrROM := createCHRROM(config)
		result = append(result, chrROM...)
	}

	return result, nil
}

// createINESHeader creates an iNES header based on configuration
func createINESHeader(config TestROMConfig) ([]byte, error) {
	if config.PRGSize == 0 {
		return nil, fmt.Errorf("PRG ROM size cannot be zero")
	}

	header := make([]byte, 16)

	// Magic number
	copy(header[0:4], "NES\x1A")

	// ROM sizes
	header[4] = config.PRGSize
	header[5] = config.CHRSize

	// Flags 6
	flags6 := uint8(0)
	if config.Mirroring == MirrorVertical {
		flags6 |= 0x01
	}
	if config.HasBattery {
		flags6 |= 0x02
	}
	if config.HasTrainer {
		flags6 |= 0x04
	}
	if config.Mirroring == MirrorFourScreen {
		flags6 |= 0x08
	}
	flags6 |= (config.MapperID & 0x0F) << 4
	header[6] = flags6

	// Flags 7 (mapper high nibble)
	flags7 := config.MapperID & 0xF0
	header[7] = flags7

	// Remaining bytes are padding (already zero)

	return header, nil
}

// createPRGROM creates PRG ROM data based on configuration
func createPRGROM(config TestROMConfig) ([]byte, error) {
	size := int(config.PRGSize) * 16384
	prgROM := make([]byte, size)

	// Copy instructions to ROM start
	if len(config.Instructions) > 0 {
		if len(config.Instructions) > size {
			return nil, fmt.Errorf("instructions too large for PRG ROM")
		}
		copy(prgROM, config.Instructions)
	}

	// Set initial data
	for address, value := range config.InitialData {
		if int(address) < size {
			prgROM[address] = value
		}
	}

	// Set interrupt vectors at end of ROM
	vectorOffset := size - 6

	// NMI vector
	prgROM[vectorOffset] = uint8(config.NMIVector & 0xFF)
	prgROM[vectorOffset+1] = uint8(config.NMIVector >> 8)

	// Reset vector
	prgROM[vectorOffset+2] = uint8(config.ResetVector & 0xFF)
	prgROM[vectorOffset+3] = uint8(config.ResetVector >> 8)

	// IRQ vector
	prgROM[vectorOffset+4] = uint8(config.IRQVector & 0xFF)
	prgROM[vectorOffset+5] = uint8(config.IRQVector >> 8)

	return prgROM, nil
}

// createCHRROM creates CHR ROM data based on configuration
func createCHRROM(config TestROMConfig) []byte {
	size := int(config.CHRSize) * 8192
	chrROM := make([]byte, size)

	// Copy CHR data if provided
	if len(config.CHRData) > 0 {
		copySize := len(config.CHRData)
		if copySize > size {
			copySize = size
		}
		copy(chrROM, config.CHRData[:copySize])
	}

	return chrROM
}
