// Package main implements the nescore NES emulator executable.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"nescore/internal/bus"
	"nescore/internal/config"
	"nescore/internal/graphics"
	"nescore/internal/input"
	"nescore/internal/version"
)

type stdLogger struct{}

func (stdLogger) Warnf(format string, args ...any) { log.Printf("warn: "+format, args...) }

func main() {
	var (
		romFile    = flag.String("rom", "", "Path to NES ROM file")
		configFile = flag.String("config", "", "Path to configuration file")
		debug      = flag.Bool("debug", false, "Enable debug mode")
		nogui      = flag.Bool("nogui", false, "Run without a display (headless mode)")
		help       = flag.Bool("help", false, "Show help message")
		showVer    = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *help {
		printUsage()
		os.Exit(0)
	}
	if *showVer {
		version.PrintBuildInfo()
		os.Exit(0)
	}
	if *romFile == "" {
		log.Fatal("a ROM file is required: nescore -rom <file>")
	}

	configPath := *configFile
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}
	cfg := config.New()
	if err := cfg.LoadFromFile(configPath); err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *nogui {
		cfg.Video.Backend = "headless"
	}
	cfg.Debug.EnableLogging = cfg.Debug.EnableLogging || *debug

	sys := bus.New()
	sys.SetLogger(stdLogger{})
	if err := sys.Load(*romFile); err != nil {
		log.Fatalf("load ROM %s: %v", *romFile, err)
	}
	sys.PowerUp()

	backendType := graphics.BackendHeadless
	if cfg.Video.Backend == "ebitengine" {
		backendType = graphics.BackendEbitengine
	}
	backend, err := graphics.CreateBackend(backendType)
	if err != nil {
		log.Fatalf("create graphics backend: %v", err)
	}

	windowWidth, windowHeight := cfg.GetWindowResolution()
	gfxConfig := graphics.Config{
		WindowTitle:  "nescore",
		WindowWidth:  windowWidth,
		WindowHeight: windowHeight,
		Fullscreen:   cfg.Window.Fullscreen,
		VSync:        cfg.Video.VSync,
		Filter:       cfg.Video.Filter,
		AspectRatio:  cfg.Video.AspectRatio,
		Brightness:   cfg.Video.Brightness,
		Contrast:     cfg.Video.Contrast,
		Saturation:   cfg.Video.Saturation,
		Headless:     backend.IsHeadless(),
		Debug:        cfg.Debug.EnableLogging,
	}
	if err := backend.Initialize(gfxConfig); err != nil {
		log.Fatalf("initialize graphics backend: %v", err)
	}
	defer backend.Cleanup()

	window, err := backend.CreateWindow(gfxConfig.WindowTitle, windowWidth, windowHeight)
	if err != nil {
		log.Fatalf("create window: %v", err)
	}
	defer window.Cleanup()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	runLoop(sys, window, shutdown, backend.IsHeadless())
	fmt.Printf("frames rendered: %d\n", sys.GetFrameCount())
}

func runLoop(sys *bus.System, window graphics.Window, shutdown chan os.Signal, headless bool) {
	for !window.ShouldClose() {
		select {
		case <-shutdown:
			return
		default:
		}

		for _, event := range window.PollEvents() {
			applyInputEvent(sys, event)
			if event.Type == graphics.InputEventTypeQuit {
				return
			}
		}

		sys.StepFrame()

		var fb [256 * 240]uint32
		copy(fb[:], sys.GetFrameBuffer())
		if err := window.RenderFrame(fb); err != nil {
			log.Printf("render frame: %v", err)
			return
		}
		window.SwapBuffers()

		if headless && sys.GetFrameCount() >= 120 {
			return
		}
	}
}

func applyInputEvent(sys *bus.System, event graphics.InputEvent) {
	if event.Type != graphics.InputEventTypeButton {
		return
	}
	controller := 1
	button := event.Button
	if button >= graphics.Button2A {
		controller = 2
	}
	sys.SetControllerButton(controller, mapButton(button), event.Pressed)
}

// mapButton translates the backend-neutral Button enum into input.Button,
// collapsing the player-2 range onto the same bit layout as player 1.
func mapButton(b graphics.Button) input.Button {
	switch b {
	case graphics.ButtonA, graphics.Button2A:
		return input.ButtonA
	case graphics.ButtonB, graphics.Button2B:
		return input.ButtonB
	case graphics.ButtonSelect, graphics.Button2Select:
		return input.ButtonSelect
	case graphics.ButtonStart, graphics.Button2Start:
		return input.ButtonStart
	case graphics.ButtonUp, graphics.Button2Up:
		return input.ButtonUp
	case graphics.ButtonDown, graphics.Button2Down:
		return input.ButtonDown
	case graphics.ButtonLeft, graphics.Button2Left:
		return input.ButtonLeft
	case graphics.ButtonRight, graphics.Button2Right:
		return input.ButtonRight
	default:
		return 0
	}
}

func printUsage() {
	fmt.Println("nescore - NES emulator core")
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  nescore -rom <file> [options]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  nescore -rom game.nes")
	fmt.Println("  nescore -rom game.nes -debug")
	fmt.Println("  nescore -rom game.nes -nogui")
	fmt.Println()
	fmt.Println("CONTROLS (Player 1):")
	fmt.Println("  Arrow Keys / WASD - D-Pad")
	fmt.Println("  J                 - A Button")
	fmt.Println("  K                 - B Button")
	fmt.Println("  Enter             - Start")
	fmt.Println("  Space             - Select")
}
