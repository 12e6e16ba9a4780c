// Package ppu implements the 2C02 Picture Processing Unit: the CPU-visible
// register file, OAM, and the per-dot background/sprite pixel pipeline.
package ppu

import "nescore/internal/memory"

// dotsPerScanline and scanlinesPerFrame define the 341x262 PPU timing grid.
const (
	dotsPerScanline  = 341
	scanlinesPerFrame = 262

	postRenderLine = 240
	vblankLine     = 241
	preRenderLine  = 261
)

// SpritePixel is the result of evaluating one layer (background or sprite)
// at a given dot; transparent pixels carry no color.
type SpritePixel struct {
	colorIndex   uint8
	paletteIndex uint8
	rgb          [3]uint8
	spriteIndex  int8
	priority     bool // true = behind background
	transparent  bool
}

// PPU represents the NES Picture Processing Unit (2C02).
type PPU struct {
	// CPU-visible registers
	ppuCtrl   uint8 // $2000
	ppuMask   uint8 // $2001
	ppuStatus uint8 // $2002
	oamAddr   uint8 // $2003
	readBuffer uint8 // buffered $2007 read

	// Loopy scroll registers
	v uint16 // current VRAM address (15 bits)
	t uint16 // temporary VRAM address / address latch (15 bits)
	x uint8  // fine X scroll (3 bits)
	w bool   // write toggle

	memory *memory.PPUMemory

	scanline int // 0-261
	dot      int // 0-340

	frameCount uint64
	oddFrame   bool

	oam          [256]uint8
	secondaryOAM [32]uint8
	spriteIndex  [8]uint8 // original OAM index of each secondary-OAM slot
	spriteCount  uint8

	sprite0Hit     bool
	spriteOverflow bool

	frameBuffer [256 * 240]uint32 // packed BGRA, alpha always 0

	nmiCallback           func()
	frameCompleteCallback func()

	backgroundEnabled bool
	spritesEnabled    bool
	bgLeftClip        bool // true = background clipped in leftmost 8 pixels
	spriteLeftClip    bool
	renderingEnabled  bool

	cycleCount uint64
}

// New creates a PPU positioned at the start of the pre-render line, as after
// a cold power-on.
func New() *PPU {
	return &PPU{
		scanline: preRenderLine,
		dot:      0,
	}
}

// Reset restores power-up state without clearing OAM or the frame buffer
// (real hardware leaves them in whatever state they were).
func (p *PPU) Reset() {
	p.ppuCtrl = 0
	p.ppuMask = 0
	p.ppuStatus = 0
	p.oamAddr = 0
	p.readBuffer = 0

	p.v = 0
	p.t = 0
	p.x = 0
	p.w = false

	p.scanline = preRenderLine
	p.dot = 0
	p.oddFrame = false

	p.spriteCount = 0
	p.sprite0Hit = false
	p.spriteOverflow = false

	p.backgroundEnabled = false
	p.spritesEnabled = false
	p.bgLeftClip = false
	p.spriteLeftClip = false
	p.renderingEnabled = false

	p.cycleCount = 0
}

// SetMemory attaches the PPU address space (nametables, palette RAM, and the
// cartridge's CHR banks via the mapper).
func (p *PPU) SetMemory(mem *memory.PPUMemory) {
	p.memory = mem
}

// SetNMICallback installs the function invoked when VBlank NMI fires.
func (p *PPU) SetNMICallback(callback func()) {
	p.nmiCallback = callback
}

// SetFrameCompleteCallback installs the function invoked once per completed
// frame (scanline 261 dot 0).
func (p *PPU) SetFrameCompleteCallback(callback func()) {
	p.frameCompleteCallback = callback
}

// ReadRegister services a CPU read of $2000-$2007.
func (p *PPU) ReadRegister(address uint16) uint8 {
	switch address {
	case 0x2002:
		status := p.ppuStatus
		p.ppuStatus &^= 0x80 // clear VBlank only; Sprite0Hit/Overflow are untouched
		p.w = false
		return status
	case 0x2004:
		return p.oam[p.oamAddr]
	case 0x2007:
		return p.readPPUData()
	default: // $2000,$2001,$2003,$2005,$2006 are write-only
		return p.ppuStatus & 0x1F
	}
}

// WriteRegister services a CPU write of $2000-$2007.
func (p *PPU) WriteRegister(address uint16, value uint8) {
	switch address {
	case 0x2000:
		prevNMIEnable := p.ppuCtrl&0x80 != 0
		p.ppuCtrl = value
		p.t = (p.t & 0xF3FF) | ((uint16(value) & 0x03) << 10)
		p.updateRenderingFlags()
		if !prevNMIEnable && p.ppuCtrl&0x80 != 0 && p.ppuStatus&0x80 != 0 {
			p.raiseNMI()
		}
	case 0x2001:
		p.ppuMask = value
		p.updateRenderingFlags()
	case 0x2003:
		p.oamAddr = value
	case 0x2004:
		p.oam[p.oamAddr] = value
		p.oamAddr++
	case 0x2005:
		p.writeScroll(value)
	case 0x2006:
		p.writeAddr(value)
	case 0x2007:
		p.writePPUData(value)
	}
}

// WriteOAM writes primary OAM directly, used by OAMDMA.
func (p *PPU) WriteOAM(address uint8, value uint8) {
	p.oam[address] = value
}

// GetOAMAddr returns the current $2003 OAMADDR value, the index an OAMDMA
// transfer must begin writing at rather than always starting at index 0.
func (p *PPU) GetOAMAddr() uint8 {
	return p.oamAddr
}

func (p *PPU) raiseNMI() {
	if p.nmiCallback != nil {
		p.nmiCallback()
	}
}

// Step advances the PPU by exactly one dot.
func (p *PPU) Step() {
	p.cycleCount++

	switch {
	case p.scanline == vblankLine && p.dot == 1:
		p.ppuStatus |= 0x80
		if p.ppuCtrl&0x80 != 0 {
			p.raiseNMI()
		}
	case p.scanline == preRenderLine && p.dot == 1:
		p.ppuStatus &^= 0x80
		p.sprite0Hit = false
		p.spriteOverflow = false
	}

	if p.scanline < postRenderLine || p.scanline == preRenderLine {
		p.renderDot()
	}
	if p.scanline == preRenderLine && p.renderingEnabled && p.dot >= 280 && p.dot <= 304 {
		p.copyY()
	}

	p.dot++
	if p.dot >= dotsPerScanline {
		p.dot = 0
		p.scanline++
		if p.scanline >= scanlinesPerFrame {
			p.scanline = 0
		}
		if p.scanline == preRenderLine {
			p.frameCount++
			p.oddFrame = !p.oddFrame
			if p.frameCompleteCallback != nil {
				p.frameCompleteCallback()
			}
		}
	}
}

// renderDot runs the background/sprite pipeline for the current dot on a
// visible or pre-render line.
func (p *PPU) renderDot() {
	if !p.renderingEnabled {
		return
	}

	switch {
	case p.dot >= 1 && p.dot <= 256:
		if p.scanline < postRenderLine {
			p.renderPixel()
		}
		if p.dot%8 == 0 {
			p.incrementCoarseX()
		}
		if p.dot == 256 {
			p.incrementFineY()
		}
	case p.dot == 257:
		p.copyX()
		if p.scanline < postRenderLine || p.scanline == preRenderLine {
			p.evaluateSpritesForNextLine()
		}
	}
}

// renderPixel composites and writes the pixel at (dot-1, scanline).
func (p *PPU) renderPixel() {
	if p.memory == nil {
		return
	}

	x := p.dot - 1
	y := p.scanline

	bg := p.backgroundPixelAt(x)
	sp := p.spritePixelAt(x, y)

	if sp.spriteIndex >= 0 && p.spriteIndex[sp.spriteIndex] == 0 && !bg.transparent && !sp.transparent {
		p.checkSprite0Hit(x)
	}

	p.frameBuffer[y*256+x] = p.composite(bg, sp)
}

// backgroundPixelAt derives the background pixel at screen column x using
// the live v register and fine X scroll, honoring the left-column clip.
func (p *PPU) backgroundPixelAt(x int) SpritePixel {
	if !p.backgroundEnabled || (x < 8 && p.bgLeftClip) {
		return SpritePixel{transparent: true, spriteIndex: -1}
	}

	// v already tracks the tile column for this 8-pixel block: Step advances
	// it via incrementCoarseX once per 8 dots, in lockstep with rendering.
	fineX := (int(p.x) + x) % 8
	v := p.v

	nametable := uint16(0x2000) | (v & 0x0FFF)
	tileID := p.memory.Read(nametable)

	attrAddr := 0x23C0 | (v & 0x0C00) | ((v >> 4) & 0x38) | ((v >> 2) & 0x07)
	attrByte := p.memory.Read(attrAddr)

	coarseX := v & 0x001F
	coarseY := (v >> 5) & 0x001F
	quadrant := ((coarseY & 0x02) << 1) | (coarseX & 0x02)
	paletteIndex := (attrByte >> quadrant) & 0x03

	fineY := (v >> 12) & 0x07
	var patternBase uint16
	if p.ppuCtrl&0x10 != 0 {
		patternBase = 0x1000
	}
	patternAddr := patternBase + uint16(tileID)*16 + fineY
	lo := p.memory.Read(patternAddr)
	hi := p.memory.Read(patternAddr + 8)

	bit := 7 - uint(fineX)
	colorIndex := ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)

	if colorIndex == 0 {
		return SpritePixel{transparent: true, spriteIndex: -1}
	}

	r, g, b := p.paletteColor(0x3F00 + uint16(paletteIndex)*4 + uint16(colorIndex))
	return SpritePixel{colorIndex: colorIndex, paletteIndex: paletteIndex, rgb: [3]uint8{r, g, b}, spriteIndex: -1}
}

// spriteHeight returns 8 or 16 per CTRL bit 5.
func (p *PPU) spriteHeight() int {
	if p.ppuCtrl&0x20 != 0 {
		return 16
	}
	return 8
}

// evaluateSpritesForNextLine scans primary OAM (dots 257-320 in hardware;
// performed in one pass here) for sprites visible on the upcoming scanline.
func (p *PPU) evaluateSpritesForNextLine() {
	nextLine := p.scanline + 1
	if p.scanline == preRenderLine {
		nextLine = 0
	}
	height := p.spriteHeight()

	for i := range p.secondaryOAM {
		p.secondaryOAM[i] = 0xFF
	}
	for i := range p.spriteIndex {
		p.spriteIndex[i] = 0xFF
	}

	found := 0
	for sprite := 0; sprite < 64; sprite++ {
		base := sprite * 4
		y := int(p.oam[base])
		if nextLine < y+1 || nextLine >= y+1+height {
			continue
		}
		if found < 8 {
			copy(p.secondaryOAM[found*4:found*4+4], p.oam[base:base+4])
			p.spriteIndex[found] = uint8(sprite)
			found++
		} else {
			p.spriteOverflow = true
			p.ppuStatus |= 0x20
			break
		}
	}
	p.spriteCount = uint8(found)
}

// spritePixelAt returns the highest-priority opaque sprite pixel at (x,y),
// or a transparent pixel if none covers it.
func (p *PPU) spritePixelAt(x, y int) SpritePixel {
	if !p.spritesEnabled || (x < 8 && p.spriteLeftClip) {
		return SpritePixel{transparent: true, spriteIndex: -1}
	}

	height := p.spriteHeight()
	for i := 0; i < int(p.spriteCount); i++ {
		base := i * 4
		sy := int(p.secondaryOAM[base])
		tile := p.secondaryOAM[base+1]
		attr := p.secondaryOAM[base+2]
		sx := int(p.secondaryOAM[base+3])

		if x < sx || x >= sx+8 {
			continue
		}
		spriteY := y - (sy + 1)
		if spriteY < 0 || spriteY >= height {
			continue
		}

		spriteX := x - sx
		if attr&0x40 != 0 {
			spriteX = 7 - spriteX
		}
		if attr&0x80 != 0 {
			spriteY = height - 1 - spriteY
		}

		colorIndex := p.spritePatternColor(tile, spriteX, spriteY)
		if colorIndex == 0 {
			continue
		}

		paletteIndex := attr & 0x03
		r, g, b := p.paletteColor(0x3F10 + uint16(paletteIndex)*4 + uint16(colorIndex))
		return SpritePixel{
			colorIndex:   colorIndex,
			paletteIndex: paletteIndex,
			rgb:          [3]uint8{r, g, b},
			spriteIndex:  int8(i),
			priority:     attr&0x20 != 0,
		}
	}

	return SpritePixel{transparent: true, spriteIndex: -1}
}

// spritePatternColor fetches the 2-bit color index for one sprite pixel,
// handling 8x16 tile-pair addressing.
func (p *PPU) spritePatternColor(tile uint8, x, y int) uint8 {
	var patternBase uint16
	if p.ppuCtrl&0x20 == 0 { // 8x8
		if p.ppuCtrl&0x08 != 0 {
			patternBase = 0x1000
		}
	} else { // 8x16: tile LSB selects pattern table
		if tile&0x01 != 0 {
			patternBase = 0x1000
		}
		tile &^= 0x01
		if y >= 8 {
			tile++
			y -= 8
		}
	}

	addr := patternBase + uint16(tile)*16 + uint16(y)
	lo := p.memory.Read(addr)
	hi := p.memory.Read(addr + 8)
	bit := 7 - uint(x)
	return ((hi>>bit)&1)<<1 | ((lo >> bit) & 1)
}

// checkSprite0Hit sets Sprite0Hit the first time sprite 0's opaque pixel
// overlaps an opaque background pixel this frame (never at x=255).
func (p *PPU) checkSprite0Hit(x int) {
	if p.sprite0Hit || x == 255 {
		return
	}
	p.sprite0Hit = true
	p.ppuStatus |= 0x40
}

// composite resolves background/sprite priority into a framebuffer color.
func (p *PPU) composite(bg, sp SpritePixel) uint32 {
	if sp.transparent {
		if bg.transparent {
			r, g, b := p.paletteColor(0x3F00)
			return packBGRA(r, g, b)
		}
		return packBGRA(bg.rgb[0], bg.rgb[1], bg.rgb[2])
	}
	if bg.transparent {
		return packBGRA(sp.rgb[0], sp.rgb[1], sp.rgb[2])
	}
	if sp.priority {
		return packBGRA(bg.rgb[0], bg.rgb[1], bg.rgb[2])
	}
	return packBGRA(sp.rgb[0], sp.rgb[1], sp.rgb[2])
}

func (p *PPU) paletteColor(addr uint16) (r, g, b uint8) {
	if p.memory == nil {
		return 0, 0, 0
	}
	return nesColor(p.memory.Read(addr))
}

func (p *PPU) updateRenderingFlags() {
	p.backgroundEnabled = p.ppuMask&0x08 != 0
	p.spritesEnabled = p.ppuMask&0x10 != 0
	p.bgLeftClip = p.ppuMask&0x02 == 0
	p.spriteLeftClip = p.ppuMask&0x04 == 0
	p.renderingEnabled = p.backgroundEnabled || p.spritesEnabled
}

func (p *PPU) writeScroll(value uint8) {
	if !p.w {
		p.t = (p.t & 0xFFE0) | (uint16(value) >> 3)
		p.x = value & 0x07
	} else {
		p.t = (p.t & 0x8FFF) | ((uint16(value) & 0x07) << 12)
		p.t = (p.t & 0xFC1F) | ((uint16(value) & 0xF8) << 2)
	}
	p.w = !p.w
}

func (p *PPU) writeAddr(value uint8) {
	if !p.w {
		p.t = (p.t & 0x80FF) | ((uint16(value) & 0x3F) << 8)
	} else {
		p.t = (p.t & 0xFF00) | uint16(value)
		p.v = p.t
	}
	p.w = !p.w
}

func (p *PPU) readPPUData() uint8 {
	if p.memory == nil {
		p.advanceVRAMAddress()
		return 0
	}

	var data uint8
	if p.v >= 0x3F00 {
		data = p.memory.Read(p.v)
		p.readBuffer = p.memory.Read(p.v & 0x2FFF)
	} else {
		data = p.readBuffer
		p.readBuffer = p.memory.Read(p.v)
	}
	p.advanceVRAMAddress()
	return data
}

func (p *PPU) writePPUData(value uint8) {
	if p.memory != nil {
		p.memory.Write(p.v, value)
	}
	p.advanceVRAMAddress()
}

func (p *PPU) advanceVRAMAddress() {
	if p.ppuCtrl&0x04 != 0 {
		p.v += 32
	} else {
		p.v++
	}
	p.v &= 0x3FFF
}

// incrementCoarseX implements the loopy coarse-X increment with nametable
// wraparound at column 31.
func (p *PPU) incrementCoarseX() {
	if p.v&0x001F == 31 {
		p.v &^= 0x001F
		p.v ^= 0x0400
	} else {
		p.v++
	}
}

// incrementFineY implements the loopy fine-Y increment, with the row-30
// attribute-area special case wrapping without toggling the nametable.
func (p *PPU) incrementFineY() {
	if p.v&0x7000 != 0x7000 {
		p.v += 0x1000
		return
	}
	p.v &^= 0x7000
	y := (p.v & 0x03E0) >> 5
	switch y {
	case 29:
		y = 0
		p.v ^= 0x0800
	case 31:
		y = 0
	default:
		y++
	}
	p.v = (p.v &^ 0x03E0) | (y << 5)
}

// copyX copies the horizontal bits of t into v (dot 257 of every line).
func (p *PPU) copyX() {
	p.v = (p.v &^ 0x041F) | (p.t & 0x041F)
}

// copyY copies the vertical bits of t into v (dots 280-304 of the
// pre-render line).
func (p *PPU) copyY() {
	p.v = (p.v &^ 0x7BE0) | (p.t & 0x7BE0)
}

// GetFrameBuffer returns the current BGRA frame buffer.
func (p *PPU) GetFrameBuffer() [256 * 240]uint32 {
	return p.frameBuffer
}

// GetFrameCount returns the number of completed frames.
func (p *PPU) GetFrameCount() uint64 {
	return p.frameCount
}

// GetScanline returns the current scanline (0-261; 261 is pre-render).
func (p *PPU) GetScanline() int {
	return p.scanline
}

// GetDot returns the current dot within the scanline (0-340).
func (p *PPU) GetDot() int {
	return p.dot
}

// IsRenderingEnabled reports whether background or sprite rendering is on.
func (p *PPU) IsRenderingEnabled() bool {
	return p.renderingEnabled
}

// IsVBlank reports whether STATUS.VBlank is currently set.
func (p *PPU) IsVBlank() bool {
	return p.ppuStatus&0x80 != 0
}

// GetCycleCount returns the total number of PPU dots elapsed.
func (p *PPU) GetCycleCount() uint64 {
	return p.cycleCount
}

// Sprite0Hit reports whether STATUS.Sprite0Hit is currently set.
func (p *PPU) Sprite0Hit() bool {
	return p.sprite0Hit
}

// SpriteOverflow reports whether STATUS.SpriteOverflow is currently set.
func (p *PPU) SpriteOverflow() bool {
	return p.spriteOverflow
}

// nesPalette holds the 64-entry NTSC 2C02 master palette as (R,G,B) triples.
var nesPalette = [64][3]uint8{
	{0x66, 0x66, 0x66}, {0x00, 0x2A, 0x88}, {0x14, 0x12, 0xA7}, {0x3B, 0x00, 0xA4},
	{0x5C, 0x00, 0x7E}, {0x6E, 0x00, 0x40}, {0x6C, 0x06, 0x00}, {0x56, 0x1D, 0x00},
	{0x33, 0x35, 0x00}, {0x0B, 0x48, 0x00}, {0x00, 0x52, 0x00}, {0x00, 0x4F, 0x08},
	{0x00, 0x40, 0x4D}, {0x00, 0x00, 0x00}, {0x00, 0x00, 0x00}, {0x00, 0x00, 0x00},
	{0xAD, 0xAD, 0xAD}, {0x15, 0x5F, 0xD9}, {0x42, 0x40, 0xFF}, {0x75, 0x27, 0xFE},
	{0xA0, 0x1A, 0xCC}, {0xB7, 0x1E, 0x7B}, {0xB5, 0x31, 0x20}, {0x99, 0x4E, 0x00},
	{0x6B, 0x6D, 0x00}, {0x38, 0x87, 0x00}, {0x0C, 0x93, 0x00}, {0x00, 0x8F, 0x32},
	{0x00, 0x7C, 0x8D}, {0x00, 0x00, 0x00}, {0x00, 0x00, 0x00}, {0x00, 0x00, 0x00},
	{0xFF, 0xFE, 0xFF}, {0x64, 0xB0, 0xFF}, {0x92, 0x90, 0xFF}, {0xC6, 0x76, 0xFF},
	{0xF3, 0x6A, 0xFF}, {0xFE, 0x6E, 0xCC}, {0xFE, 0x81, 0x70}, {0xEA, 0x9E, 0x22},
	{0xBC, 0xBE, 0x00}, {0x88, 0xD8, 0x00}, {0x5C, 0xE4, 0x30}, {0x45, 0xE0, 0x82},
	{0x48, 0xCD, 0xDE}, {0x4F, 0x4F, 0x4F}, {0x00, 0x00, 0x00}, {0x00, 0x00, 0x00},
	{0xFF, 0xFE, 0xFF}, {0xC0, 0xDF, 0xFF}, {0xD3, 0xD2, 0xFF}, {0xE8, 0xC8, 0xFF},
	{0xFB, 0xC2, 0xFF}, {0xFE, 0xC4, 0xEA}, {0xFE, 0xCC, 0xC5}, {0xF7, 0xD8, 0xA5},
	{0xE4, 0xE5, 0x94}, {0xCF, 0xF2, 0x9B}, {0xBE, 0xFB, 0xB3}, {0xB8, 0xF8, 0xD8},
	{0xB8, 0xF8, 0xF8}, {0x00, 0x00, 0x00}, {0x00, 0x00, 0x00}, {0x00, 0x00, 0x00},
}

// nesColor resolves a 6-bit NES palette index (the top two bits are
// grayscale/emphasis and are masked off here; emphasis is a Non-goal) to RGB.
func nesColor(index uint8) (r, g, b uint8) {
	c := nesPalette[index&0x3F]
	return c[0], c[1], c[2]
}

// packBGRA packs an RGB triple into the framebuffer's word format: byte
// order B,G,R,A from MSB to LSB, alpha always 0.
func packBGRA(r, g, b uint8) uint32 {
	return uint32(b)<<24 | uint32(g)<<16 | uint32(r)<<8
}
