package bus

import (
	"testing"

	"nescore/internal/cartridge"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	cart, err := cartridge.NewTestROMBuilder().
		WithPRGSize(1).
		WithCHRSize(1).
		WithResetVector(0x8000).
		BuildCartridge()
	if err != nil {
		t.Fatalf("BuildCartridge: %v", err)
	}
	sys := New()
	sys.LoadCartridge(cart)
	sys.PowerUp()
	return sys
}

func TestStepFrameBeforeLoadPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("StepFrame with no cartridge loaded should panic")
		}
	}()
	New().StepFrame()
}

func TestPowerUpBeforeLoadPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("PowerUp with no cartridge loaded should panic")
		}
	}()
	New().PowerUp()
}

func TestStepFrameAdvancesExactlyOneFrameOfCycles(t *testing.T) {
	sys := newTestSystem(t)
	sys.StepFrame()
	// The zero-filled test ROM runs only 7-cycle BRKs, so the frame ends on
	// the first instruction boundary at or past cyclesPerFrame: 4255
	// instructions, 29785 cycles.
	const want = 4255 * 7
	if sys.GetCycleCount() != want {
		t.Errorf("cycle count = %d, want %d", sys.GetCycleCount(), want)
	}
}

func TestStepFramePPURunsThreeDotsPerCPUCycle(t *testing.T) {
	sys := newTestSystem(t)
	sys.StepFrame()
	if got, want := sys.PPU.GetCycleCount(), sys.GetCycleCount()*3; got != want {
		t.Errorf("PPU dot count = %d, want %d", got, want)
	}
}

func TestResetClearsTimingState(t *testing.T) {
	sys := newTestSystem(t)
	sys.StepFrame()
	sys.Reset()
	if sys.GetCycleCount() != 0 {
		t.Errorf("cycle count after Reset = %d, want 0", sys.GetCycleCount())
	}
	if sys.IsDMAInProgress() {
		t.Error("DMA should not be in progress after Reset")
	}
}

func TestOAMDMAStartsAtCurrentOAMAddrNotAlwaysZero(t *testing.T) {
	sys := newTestSystem(t)
	sys.PPU.WriteRegister(0x2003, 0x10) // OAMADDR = 0x10

	sys.Memory.Write(0x0200, 0xAB) // source page $02, offset 0 -> $0200
	sys.Memory.Write(0x4014, 0x02) // trigger OAMDMA from page $02

	if !sys.IsDMAInProgress() {
		t.Fatal("expected DMA to be in progress immediately after $4014 write")
	}

	// Drain the 513/514 suspended cycles.
	for sys.IsDMAInProgress() {
		sys.step()
	}

	sys.PPU.WriteRegister(0x2003, 0x10)
	if got := sys.PPU.ReadRegister(0x2004); got != 0xAB {
		t.Errorf("OAM[0x10] = 0x%02X, want 0xAB (DMA must start at current OAMADDR, not index 0)", got)
	}
}

func TestOAMDMASuspendsCPUFor513Or514Cycles(t *testing.T) {
	sys := newTestSystem(t)
	sys.Memory.Write(0x4014, 0x02)
	before := sys.dmaSuspendCycles
	if before != 513 && before != 514 {
		t.Fatalf("dmaSuspendCycles = %d, want 513 or 514", before)
	}
}

func TestNMIOnVBlankEntryWhenEnabled(t *testing.T) {
	sys := newTestSystem(t)
	sys.PPU.WriteRegister(0x2000, 0x80) // enable NMI on VBlank

	// Step the PPU directly until it has emulated the VBlank dot (scanline
	// 241, dot 1; Step emulates the current dot, then moves to the next),
	// exercising the real SetNMICallback wiring rather than asserting on a
	// manually-triggered flag.
	for i := 0; i < 90000 && !(sys.PPU.GetScanline() == 241 && sys.PPU.GetDot() == 2); i++ {
		sys.PPU.Step()
	}
	if sys.PPU.GetScanline() != 241 || sys.PPU.GetDot() != 2 {
		t.Fatal("failed to reach VBlank dot within iteration budget")
	}
	if !sys.nmiPending {
		t.Error("expected nmiPending to be set once the PPU raises NMI via its callback")
	}
}

func TestSetControllerButtonRoutesToCorrectPort(t *testing.T) {
	sys := newTestSystem(t)
	sys.SetControllerButton(1, 0x01, true) // controller 1, button A
	sys.SetControllerButton(2, 0x02, true) // controller 2, button B

	if !sys.Input.Controller1.IsPressed(0x01) {
		t.Error("controller 1 button A should be pressed")
	}
	if sys.Input.Controller1.IsPressed(0x02) {
		t.Error("controller 1 button B should not be pressed")
	}
	if !sys.Input.Controller2.IsPressed(0x02) {
		t.Error("controller 2 button B should be pressed")
	}
}

func TestGetFrameBufferReturnsFullFrame(t *testing.T) {
	sys := newTestSystem(t)
	fb := sys.GetFrameBuffer()
	if len(fb) != 256*240 {
		t.Errorf("len(GetFrameBuffer()) = %d, want %d", len(fb), 256*240)
	}
}

func TestGetAudioSamplesAlwaysEmpty(t *testing.T) {
	sys := newTestSystem(t)
	if samples := sys.GetAudioSamples(); len(samples) != 0 {
		t.Errorf("GetAudioSamples() returned %d samples, want 0", len(samples))
	}
}

func TestWarnOnceDedupesByKey(t *testing.T) {
	sys := newTestSystem(t)
	var calls int
	sys.SetLogger(loggerFunc(func(string, ...any) { calls++ }))

	sys.warnOnce("same-key", "first")
	sys.warnOnce("same-key", "second")
	sys.warnOnce("different-key", "third")

	if calls != 2 {
		t.Errorf("logger invoked %d times, want 2 (one per unique key)", calls)
	}
}

func TestIllegalOpcodeWarnsOnceViaLogger(t *testing.T) {
	cart, err := cartridge.NewTestROMBuilder().
		WithPRGSize(1).
		WithCHRSize(1).
		WithResetVector(0x8000).
		WithInstructions([]uint8{0xFF, 0xFF}). // an unassigned opcode, twice
		BuildCartridge()
	if err != nil {
		t.Fatalf("BuildCartridge: %v", err)
	}
	sys := New()
	sys.LoadCartridge(cart)
	sys.PowerUp()

	var calls int
	sys.SetLogger(loggerFunc(func(string, ...any) { calls++ }))

	sys.step()
	sys.step()

	if calls != 1 {
		t.Errorf("logger invoked %d times for the same illegal opcode, want 1", calls)
	}
}

type loggerFunc func(format string, args ...any)

func (f loggerFunc) Warnf(format string, args ...any) { f(format, args...) }
