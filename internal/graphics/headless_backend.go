package graphics

import (
	"fmt"
	"os"
)

// HeadlessBackend implements Backend for scripted or CI runs: it renders no
// window and, unless configured otherwise, never touches the filesystem.
type HeadlessBackend struct {
	initialized bool
	config      Config
}

// HeadlessWindow implements Window for headless operation. When the backend
// was initialized with Config.Debug set, RenderFrame additionally dumps
// every dumpInterval-th frame to outputPath as a PPM image, for visual
// inspection without a display.
type HeadlessWindow struct {
	title      string
	width      int
	height     int
	running    bool
	frameCount int

	dumpFrames   bool
	dumpInterval int
	outputPath   string

	videoProcessor *VideoProcessor
}

// NewHeadlessBackend creates a new headless graphics backend.
func NewHeadlessBackend() Backend {
	return &HeadlessBackend{}
}

// Initialize initializes the headless backend.
func (b *HeadlessBackend) Initialize(config Config) error {
	if b.initialized {
		return fmt.Errorf("headless backend already initialized")
	}
	b.config = config
	b.initialized = true
	return nil
}

// CreateWindow creates a headless "window" — no OS window is opened.
func (b *HeadlessBackend) CreateWindow(title string, width, height int) (Window, error) {
	if !b.initialized {
		return nil, fmt.Errorf("backend not initialized")
	}
	return &HeadlessWindow{
		title:          title,
		width:          width,
		height:         height,
		running:        true,
		dumpFrames:     b.config.Debug,
		dumpInterval:   60,
		outputPath:     ".",
		videoProcessor: NewVideoProcessor(orDefault(b.config.Brightness), orDefault(b.config.Contrast), orDefault(b.config.Saturation)),
	}, nil
}

// Cleanup releases all headless resources.
func (b *HeadlessBackend) Cleanup() error {
	b.initialized = false
	return nil
}

// IsHeadless always returns true.
func (b *HeadlessBackend) IsHeadless() bool {
	return true
}

// GetName returns the backend name.
func (b *HeadlessBackend) GetName() string {
	return "Headless"
}

// SetTitle records the title (no OS window exists to retitle).
func (w *HeadlessWindow) SetTitle(title string) {
	w.title = title
}

// GetSize returns the configured window dimensions.
func (w *HeadlessWindow) GetSize() (width, height int) {
	return w.width, w.height
}

// ShouldClose reports whether the window should close.
func (w *HeadlessWindow) ShouldClose() bool {
	return !w.running
}

// SwapBuffers is a no-op in headless mode.
func (w *HeadlessWindow) SwapBuffers() {}

// PollEvents always returns no events: headless mode has no input source.
func (w *HeadlessWindow) PollEvents() []InputEvent {
	return nil
}

// RenderFrame counts frames and, when debug dumping is enabled, periodically
// writes the frame to a PPM file under outputPath.
func (w *HeadlessWindow) RenderFrame(frameBuffer [256 * 240]uint32) error {
	w.frameCount++
	if !w.dumpFrames || w.dumpInterval <= 0 || w.frameCount%w.dumpInterval != 0 {
		return nil
	}
	processed := frameBuffer[:]
	if w.videoProcessor != nil {
		processed = w.videoProcessor.ProcessFrame(frameBuffer[:])
	}
	var out [256 * 240]uint32
	copy(out[:], processed)
	filename := fmt.Sprintf("%s/frame_%06d.ppm", w.outputPath, w.frameCount)
	return w.saveFrameAsPPM(out, filename)
}

// saveFrameAsPPM writes frameBuffer (BGRA, alpha always 0) as a plain PPM
// image.
func (w *HeadlessWindow) saveFrameAsPPM(frameBuffer [256 * 240]uint32, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("create %s: %w", filename, err)
	}
	defer file.Close()

	fmt.Fprintf(file, "P3\n256 240\n255\n")
	for y := 0; y < 240; y++ {
		for x := 0; x < 256; x++ {
			pixel := frameBuffer[y*256+x]
			r := (pixel >> 8) & 0xFF
			g := (pixel >> 16) & 0xFF
			b := (pixel >> 24) & 0xFF
			fmt.Fprintf(file, "%d %d %d ", r, g, b)
		}
		fmt.Fprintf(file, "\n")
	}
	return nil
}

// Cleanup releases window resources.
func (w *HeadlessWindow) Cleanup() error {
	w.running = false
	return nil
}

// SetOutputPath sets the directory frame dumps are written to.
func (w *HeadlessWindow) SetOutputPath(path string) {
	w.outputPath = path
}

// SetDumpInterval sets how many frames pass between debug frame dumps.
func (w *HeadlessWindow) SetDumpInterval(interval int) {
	w.dumpInterval = interval
}

// GetFrameCount returns the current frame count.
func (w *HeadlessWindow) GetFrameCount() int {
	return w.frameCount
}
