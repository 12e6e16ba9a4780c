//go:build !headless
// +build !headless

package graphics

import (
	"fmt"
	"image"
	"image/color"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
)

// EbitengineBackend implements Backend using the ebiten v2 GUI toolkit.
type EbitengineBackend struct {
	initialized bool
	config      Config
	game        *EbitengineGame
}

// EbitengineWindow implements Window for the ebiten backend.
type EbitengineWindow struct {
	backend            *EbitengineBackend
	title              string
	width              int
	height             int
	game               *EbitengineGame
	running            bool
	events             []InputEvent
	emulatorUpdateFunc func() error
	videoProcessor     *VideoProcessor
}

// EbitengineGame implements ebiten.Game, driving the NES frame buffer onto
// the window each tick.
type EbitengineGame struct {
	window       *EbitengineWindow
	frameBuffer  [256 * 240]uint32
	frameImage   *ebiten.Image
	nesWidth     int
	nesHeight    int
	windowWidth  int
	windowHeight int

	previousKeyStates map[ebiten.Key]bool
	imageBuffer       *image.RGBA // reused every frame to avoid per-frame allocation
}

// NewEbitengineBackend creates the ebiten graphics backend.
func NewEbitengineBackend() Backend {
	return &EbitengineBackend{}
}

// Initialize initializes the ebiten backend.
func (b *EbitengineBackend) Initialize(config Config) error {
	if b.initialized {
		return fmt.Errorf("ebitengine backend already initialized")
	}
	b.config = config
	b.initialized = true
	return nil
}

// CreateWindow creates an ebiten window.
func (b *EbitengineBackend) CreateWindow(title string, width, height int) (Window, error) {
	if !b.initialized {
		return nil, fmt.Errorf("backend not initialized")
	}
	if b.config.Headless {
		return nil, fmt.Errorf("cannot create window in headless mode")
	}

	game := &EbitengineGame{
		nesWidth:          256,
		nesHeight:         240,
		windowWidth:       width,
		windowHeight:      height,
		frameImage:        ebiten.NewImage(256, 240),
		previousKeyStates: make(map[ebiten.Key]bool),
		imageBuffer:       image.NewRGBA(image.Rect(0, 0, 256, 240)),
	}

	window := &EbitengineWindow{
		backend:        b,
		title:          title,
		width:          width,
		height:         height,
		game:           game,
		running:        true,
		videoProcessor: NewVideoProcessor(orDefault(b.config.Brightness), orDefault(b.config.Contrast), orDefault(b.config.Saturation)),
	}
	game.window = window
	b.game = game

	ebiten.SetWindowTitle(title)
	ebiten.SetWindowSize(width, height)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetVsyncEnabled(b.config.VSync)
	if b.config.Fullscreen {
		ebiten.SetFullscreen(true)
	}
	ebiten.SetScreenFilterEnabled(b.config.Filter == "linear")

	return window, nil
}

// Cleanup releases all ebiten resources.
func (b *EbitengineBackend) Cleanup() error {
	b.initialized = false
	return nil
}

// IsHeadless reports whether the backend was configured for headless mode.
func (b *EbitengineBackend) IsHeadless() bool {
	return b.config.Headless
}

// GetName returns the backend name.
func (b *EbitengineBackend) GetName() string {
	return "Ebitengine"
}

// SetTitle sets the window title.
func (w *EbitengineWindow) SetTitle(title string) {
	w.title = title
	ebiten.SetWindowTitle(title)
}

// GetSize returns window dimensions.
func (w *EbitengineWindow) GetSize() (width, height int) {
	return w.width, w.height
}

// ShouldClose reports whether the window should close.
func (w *EbitengineWindow) ShouldClose() bool {
	return !w.running
}

// SwapBuffers is a no-op: ebiten swaps buffers itself between Draw calls.
func (w *EbitengineWindow) SwapBuffers() {}

// PollEvents returns and clears events accumulated since the last call.
func (w *EbitengineWindow) PollEvents() []InputEvent {
	events := w.events
	w.events = nil
	return events
}

// RenderFrame converts a BGRA (alpha always 0) NES frame buffer into the
// window's displayed image.
func (w *EbitengineWindow) RenderFrame(frameBuffer [256 * 240]uint32) error {
	if w.game == nil {
		return fmt.Errorf("game not initialized")
	}
	w.game.frameBuffer = frameBuffer

	processed := frameBuffer[:]
	if w.videoProcessor != nil {
		processed = w.videoProcessor.ProcessFrame(processed)
	}

	img := w.game.imageBuffer
	for y := 0; y < 240; y++ {
		for x := 0; x < 256; x++ {
			pixel := processed[y*256+x]
			r := uint8((pixel >> 8) & 0xFF)
			g := uint8((pixel >> 16) & 0xFF)
			b := uint8((pixel >> 24) & 0xFF)
			img.SetRGBA(x, y, color.RGBA{R: r, G: g, B: b, A: 255})
		}
	}
	w.game.frameImage.ReplacePixels(img.Pix)
	return nil
}

// Cleanup releases window resources.
func (w *EbitengineWindow) Cleanup() error {
	w.running = false
	return nil
}

// Run starts the ebiten game loop; it blocks until the window closes.
func (w *EbitengineWindow) Run() error {
	if w.game == nil {
		return fmt.Errorf("game not initialized")
	}
	return ebiten.RunGame(w.game)
}

// SetEmulatorUpdateFunc installs the callback Update invokes once per tick
// to advance the emulated system by one frame.
func (w *EbitengineWindow) SetEmulatorUpdateFunc(updateFunc func() error) {
	w.emulatorUpdateFunc = updateFunc
}

// Update implements ebiten.Game.
func (g *EbitengineGame) Update() error {
	if g.window == nil {
		return nil
	}
	g.processInput()
	if g.window.emulatorUpdateFunc != nil {
		return g.window.emulatorUpdateFunc()
	}
	return nil
}

// Draw implements ebiten.Game, scaling the 256x240 NES image to fit the
// window while preserving aspect ratio.
func (g *EbitengineGame) Draw(screen *ebiten.Image) {
	screen.Fill(color.RGBA{R: 0, G: 0, B: 0, A: 255})
	if g.frameImage == nil {
		return
	}

	op := &ebiten.DrawImageOptions{}
	scaleX := float64(g.windowWidth) / float64(g.nesWidth)
	scaleY := float64(g.windowHeight) / float64(g.nesHeight)
	scale := scaleX
	if scaleY < scaleX {
		scale = scaleY
	}
	offsetX := (float64(g.windowWidth) - float64(g.nesWidth)*scale) / 2
	offsetY := (float64(g.windowHeight) - float64(g.nesHeight)*scale) / 2

	op.GeoM.Scale(scale, scale)
	op.GeoM.Translate(offsetX, offsetY)
	screen.DrawImage(g.frameImage, op)
}

// Layout implements ebiten.Game; scaling is handled in Draw instead.
func (g *EbitengineGame) Layout(outsideWidth, outsideHeight int) (screenWidth, screenHeight int) {
	g.windowWidth = outsideWidth
	g.windowHeight = outsideHeight
	return outsideWidth, outsideHeight
}

// keyMappings maps ebiten key codes to the backend-neutral Key enum.
var keyMappings = map[ebiten.Key]Key{
	ebiten.KeyEscape:     KeyEscape,
	ebiten.KeyEnter:      KeyEnter,
	ebiten.KeySpace:      KeySpace,
	ebiten.KeyArrowUp:    KeyUp,
	ebiten.KeyArrowDown:  KeyDown,
	ebiten.KeyArrowLeft:  KeyLeft,
	ebiten.KeyArrowRight: KeyRight,
	ebiten.KeyW:          KeyW,
	ebiten.KeyA:          KeyA,
	ebiten.KeyS:          KeyS,
	ebiten.KeyD:          KeyD,
	ebiten.KeyJ:          KeyJ,
	ebiten.KeyK:          KeyK,
	ebiten.KeyX:          KeyX,
	ebiten.KeyZ:          KeyZ,
	ebiten.Key1:          Key1,
	ebiten.Key2:          Key2,
	ebiten.Key3:          Key3,
	ebiten.Key4:          Key4,
	ebiten.Key5:          Key5,
	ebiten.Key6:          Key6,
	ebiten.Key7:          Key7,
	ebiten.Key8:          Key8,
}

// buttonMappings maps the backend-neutral Key enum onto NES controller
// buttons, WASD/arrows/JK to controller 1 and the number row to controller 2.
var buttonMappings = map[Key]Button{
	KeyUp:    ButtonUp,
	KeyDown:  ButtonDown,
	KeyLeft:  ButtonLeft,
	KeyRight: ButtonRight,
	KeyW:     ButtonUp,
	KeyS:     ButtonDown,
	KeyA:     ButtonLeft,
	KeyD:     ButtonRight,
	KeyJ:     ButtonA,
	KeyK:     ButtonB,
	KeyEnter: ButtonStart,
	KeySpace: ButtonSelect,
	Key1:     Button2Up,
	Key2:     Button2Down,
	Key3:     Button2Left,
	Key4:     Button2Right,
	Key5:     Button2A,
	Key6:     Button2B,
	Key7:     Button2Start,
	Key8:     Button2Select,
}

// processInput polls ebiten's key-change detection and translates it into
// InputEvents queued for PollEvents.
func (g *EbitengineGame) processInput() {
	if g.window == nil {
		return
	}

	var events []InputEvent
	if inpututil.IsKeyJustPressed(ebiten.KeyEscape) {
		events = append(events, InputEvent{Type: InputEventTypeQuit, Pressed: true})
	}

	for ebitenKey, key := range keyMappings {
		var pressed bool
		switch {
		case inpututil.IsKeyJustPressed(ebitenKey):
			pressed = true
		case inpututil.IsKeyJustReleased(ebitenKey):
			pressed = false
		default:
			continue
		}
		g.previousKeyStates[ebitenKey] = pressed

		if button, ok := buttonMappings[key]; ok {
			events = append(events, InputEvent{Type: InputEventTypeButton, Button: button, Pressed: pressed})
		} else {
			events = append(events, InputEvent{Type: InputEventTypeKey, Key: key, Pressed: pressed})
		}
	}

	g.window.events = append(g.window.events, events...)
}
