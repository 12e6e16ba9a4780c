// Package bus implements the NES frame scheduler: it wires the CPU, PPU,
// APU, memory bus, and controller ports together and drives them frame by
// frame, exposing the Load/PowerUp/StepFrame/Reset/Shutdown lifecycle a host
// program needs.
package bus

import (
	"fmt"

	"nescore/internal/apu"
	"nescore/internal/cartridge"
	"nescore/internal/cpu"
	"nescore/internal/input"
	"nescore/internal/memory"
	"nescore/internal/nesfile"
	"nescore/internal/ppu"
)

// cyclesPerFrame is the CPU-cycle length of one NTSC frame rounded up to a
// whole cycle: 89342 PPU dots divided by 3 is 29780.67. The PPU has no
// odd-frame dot skip, so every frame is 89342 dots.
const cyclesPerFrame = 29781

// Logger receives rate-limited runtime warnings. Only illegal opcodes are
// reported; writes to read-only registers and reads of write-only registers
// produce no warning.
// The host supplies an implementation; System never writes to stdout/stderr
// directly.
type Logger interface {
	Warnf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Warnf(string, ...any) {}

// System wires together a complete NES and drives it frame by frame.
type System struct {
	CPU    *cpu.CPU
	PPU    *ppu.PPU
	APU    *apu.APU
	Memory *memory.Memory
	Input  *input.InputState

	cart   *cartridge.Cartridge
	loaded bool

	logger Logger
	warned map[string]struct{}

	cpuCycles  uint64
	frameCount uint64

	dmaSuspendCycles uint64
	dmaInProgress    bool
	nmiPending       bool
}

// New constructs a System with no cartridge loaded. Call Load (or
// LoadCartridge) before PowerUp/StepFrame.
func New() *System {
	sys := &System{
		PPU:    ppu.New(),
		APU:    apu.New(),
		Input:  input.NewInputState(),
		logger: nopLogger{},
		warned: make(map[string]struct{}),
	}
	sys.Memory = memory.New(sys.PPU, sys.APU, nil)
	sys.Memory.SetInputSystem(sys.Input)
	sys.CPU = cpu.New(sys.Memory)

	sys.PPU.SetNMICallback(sys.triggerNMI)
	sys.PPU.SetFrameCompleteCallback(sys.handleFrameComplete)
	sys.Memory.SetDMACallback(sys.triggerOAMDMA)
	sys.CPU.SetIllegalOpcodeHook(sys.warnIllegalOpcode)

	return sys
}

// SetLogger installs the runtime-warning sink. A nil logger restores the
// default, which discards every warning.
func (s *System) SetLogger(logger Logger) {
	if logger == nil {
		logger = nopLogger{}
	}
	s.logger = logger
}

func (s *System) warnOnce(key, format string, args ...any) {
	if _, seen := s.warned[key]; seen {
		return
	}
	s.warned[key] = struct{}{}
	s.logger.Warnf(format, args...)
}

func (s *System) warnIllegalOpcode(opcode uint8, pc uint16) {
	s.warnOnce(fmt.Sprintf("illegal-opcode-%02X", opcode),
		"illegal opcode $%02X at $%04X treated as a 2-cycle NOP", opcode, pc)
}

// Load reads an iNES image from disk and wires it onto the bus, replacing
// any previously loaded cartridge. It returns the typed *nesfile.LoadError
// spec.md §6 names on failure, never panicking.
func (s *System) Load(path string) error {
	cart, err := nesfile.Load(path)
	if err != nil {
		return err
	}
	s.attachCartridge(cart)
	return nil
}

// LoadCartridge wires an already-parsed cartridge onto the bus, primarily
// for tests that build cartridges in memory rather than loading a file.
func (s *System) LoadCartridge(cart *cartridge.Cartridge) {
	s.attachCartridge(cart)
}

func (s *System) attachCartridge(cart *cartridge.Cartridge) {
	s.cart = cart
	mapper := cart.MapperInstance()

	s.Memory = memory.New(s.PPU, s.APU, mapper)
	s.Memory.SetInputSystem(s.Input)
	s.Memory.SetDMACallback(s.triggerOAMDMA)
	s.CPU = cpu.New(s.Memory)
	s.CPU.SetIllegalOpcodeHook(s.warnIllegalOpcode)

	s.PPU.SetMemory(memory.NewPPUMemory(mapper, cart.Mirror()))
	s.PPU.SetNMICallback(s.triggerNMI)

	s.loaded = true
}

// PowerUp brings every component to its power-on state. A cartridge must
// already be loaded; calling it first is a programmer error.
func (s *System) PowerUp() {
	s.requireLoaded("PowerUp")
	s.Reset()
}

// Reset performs a soft reset: component registers reinitialize, but loaded
// cartridge data and battery-backed PRG-RAM are untouched.
func (s *System) Reset() {
	s.CPU.Reset()
	s.PPU.Reset()
	s.APU.Reset()
	s.Input.Reset()

	s.cpuCycles = 0
	s.frameCount = 0
	s.dmaSuspendCycles = 0
	s.dmaInProgress = false
	s.nmiPending = false
}

// Shutdown gives a host one place to stop driving frames. System holds no
// goroutines or OS handles of its own, so there is nothing else to release;
// the method exists to satisfy the Load/PowerUp/StepFrame/Reset/Shutdown
// lifecycle spec.md §6 names.
func (s *System) Shutdown() {}

func (s *System) requireLoaded(op string) {
	if !s.loaded {
		panic(fmt.Sprintf("bus: %s called with no cartridge loaded", op))
	}
}

// StepFrame runs whole CPU instructions, each followed by its PPU dots, until
// the PPU completes a frame (its move from line 260 to pre-render line 261).
// The last instruction may carry the PPU a few dots past that point.
func (s *System) StepFrame() {
	s.requireLoaded("StepFrame")
	start := s.PPU.GetFrameCount()
	for s.PPU.GetFrameCount() == start {
		s.step()
	}
}

// step executes one CPU instruction (or consumes one DMA-suspended cycle)
// and advances the PPU 3x and the APU 1x per CPU cycle, per spec.md §4.8.
func (s *System) step() {
	var cycles uint64

	if s.dmaSuspendCycles > 0 {
		cycles = 1
		s.dmaSuspendCycles--
		if s.dmaSuspendCycles == 0 {
			s.dmaInProgress = false
		}
	} else {
		if s.nmiPending {
			s.CPU.SetNMI()
			s.nmiPending = false
		}
		cycles = s.CPU.Step()
	}

	for i := uint64(0); i < cycles*3; i++ {
		s.PPU.Step()
	}
	for i := uint64(0); i < cycles; i++ {
		s.APU.Step()
	}

	s.cpuCycles += cycles
}

func (s *System) triggerNMI() {
	s.nmiPending = true
}

func (s *System) handleFrameComplete() {
	s.frameCount = s.PPU.GetFrameCount()
}

// triggerOAMDMA performs the 256-byte OAM transfer from sourcePage<<8,
// writing into primary OAM starting at the *current* OAMADDR rather than
// always index 0 (a teacher defect: real hardware continues the transfer
// wherever $2003 last left OAMADDR, wrapping through the full 256 bytes).
func (s *System) triggerOAMDMA(sourcePage uint8) {
	if s.dmaInProgress {
		return
	}

	dmaCycles := uint64(513)
	if s.cpuCycles%2 == 1 {
		dmaCycles = 514
	}
	s.dmaInProgress = true
	s.dmaSuspendCycles = dmaCycles

	start := s.PPU.GetOAMAddr()
	sourceAddress := uint16(sourcePage) << 8
	for i := 0; i < 256; i++ {
		data := s.Memory.Read(sourceAddress + uint16(i))
		s.PPU.WriteOAM(start+uint8(i), data)
	}
}

// GetFrameBuffer returns the current PPU frame buffer as a flat BGRA slice.
func (s *System) GetFrameBuffer() []uint32 {
	fb := s.PPU.GetFrameBuffer()
	return fb[:]
}

// GetAudioSamples returns the current audio samples from the APU; always
// empty, since audio synthesis is out of scope (spec.md §1 Non-goals).
func (s *System) GetAudioSamples() []float32 {
	return s.APU.GetSamples()
}

// SetAudioSampleRate is accepted for host API parity; the APU stub has
// nothing to configure.
func (s *System) SetAudioSampleRate(rate int) {
	s.APU.SetSampleRate(rate)
}

// GetCycleCount returns the total CPU cycle count since the last Reset.
func (s *System) GetCycleCount() uint64 {
	return s.cpuCycles
}

// GetFrameCount returns the total frame count since the last Reset.
func (s *System) GetFrameCount() uint64 {
	return s.frameCount
}

// IsDMAInProgress reports whether an OAMDMA transfer is currently
// suspending the CPU.
func (s *System) IsDMAInProgress() bool {
	return s.dmaInProgress
}

// SetControllerButton sets the state of a single controller button.
// Controller indices 0 and 1 both address controller 1 (0-based and 1-based
// callers are both supported); 2 addresses controller 2.
func (s *System) SetControllerButton(controller int, button input.Button, pressed bool) {
	switch controller {
	case 0, 1:
		s.Input.Controller1.SetButton(button, pressed)
	case 2:
		s.Input.Controller2.SetButton(button, pressed)
	}
}

// SetControllerButtons replaces all 8 button states for a controller at
// once.
func (s *System) SetControllerButtons(controller int, buttons [8]bool) {
	switch controller {
	case 0, 1:
		s.Input.SetButtons1(buttons)
	case 2:
		s.Input.SetButtons2(buttons)
	}
}

// GetInputState returns the input state for direct access.
func (s *System) GetInputState() *input.InputState {
	return s.Input
}

// CPUState is a snapshot of CPU registers and flags, exposed for test
// introspection.
type CPUState struct {
	PC      uint16
	A, X, Y uint8
	SP      uint8
	Cycles  uint64
	Flags   CPUFlags
}

// CPUFlags is a snapshot of the CPU status flags.
type CPUFlags struct {
	N, V, B, D, I, Z, C bool
}

// GetCPUState returns the current CPU state for testing.
func (s *System) GetCPUState() CPUState {
	return CPUState{
		PC:     s.CPU.PC,
		A:      s.CPU.A,
		X:      s.CPU.X,
		Y:      s.CPU.Y,
		SP:     s.CPU.SP,
		Cycles: s.cpuCycles,
		Flags: CPUFlags{
			N: s.CPU.N,
			V: s.CPU.V,
			B: s.CPU.B,
			D: s.CPU.D,
			I: s.CPU.I,
			Z: s.CPU.Z,
			C: s.CPU.C,
		},
	}
}

// PPUState is a snapshot of PPU timing and status, exposed for test
// introspection.
type PPUState struct {
	Scanline    int
	Dot         int
	FrameCount  uint64
	VBlankFlag  bool
	RenderingOn bool
}

// GetPPUState returns the current PPU state for testing.
func (s *System) GetPPUState() PPUState {
	return PPUState{
		Scanline:    s.PPU.GetScanline(),
		Dot:         s.PPU.GetDot(),
		FrameCount:  s.frameCount,
		VBlankFlag:  s.PPU.IsVBlank(),
		RenderingOn: s.PPU.IsRenderingEnabled(),
	}
}
