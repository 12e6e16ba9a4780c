// Package input implements standard NES controller handling.
package input

// Button identifies one of the 8 standard controller buttons.
type Button uint8

const (
	ButtonA Button = 1 << iota
	ButtonB
	ButtonSelect
	ButtonStart
	ButtonUp
	ButtonDown
	ButtonLeft
	ButtonRight
)

// Short aliases used by callers wiring up a host keymap.
const (
	A      = ButtonA
	B      = ButtonB
	Select = ButtonSelect
	Start  = ButtonStart
	Up     = ButtonUp
	Down   = ButtonDown
	Left   = ButtonLeft
	Right  = ButtonRight
)

// openBusPattern is the conventional value ORed onto the upper bits of a
// controller-port read, approximating the NES's floating data bus.
const openBusPattern = 0x40

// Controller models one standard NES controller's shift register.
type Controller struct {
	buttons uint8

	strobe        bool
	shiftRegister uint8
	bitPosition   uint8
}

// New creates a Controller with no buttons pressed.
func New() *Controller {
	return &Controller{}
}

// SetButton sets or clears a single button.
func (c *Controller) SetButton(button Button, pressed bool) {
	if pressed {
		c.buttons |= uint8(button)
	} else {
		c.buttons &^= uint8(button)
	}
}

// SetButtons replaces all 8 button states at once, in NES order: A, B,
// Select, Start, Up, Down, Left, Right.
func (c *Controller) SetButtons(buttons [8]bool) {
	c.buttons = 0
	order := [8]Button{ButtonA, ButtonB, ButtonSelect, ButtonStart, ButtonUp, ButtonDown, ButtonLeft, ButtonRight}
	for i, pressed := range buttons {
		if pressed {
			c.buttons |= uint8(order[i])
		}
	}
}

// IsPressed reports whether a button is currently held.
func (c *Controller) IsPressed(button Button) bool {
	return c.buttons&uint8(button) != 0
}

// Write handles a $4016 strobe write. While strobe is held high the shift
// register continuously reloads from the live button state; the 1-to-0
// transition freezes it for serial reading.
func (c *Controller) Write(value uint8) {
	strobe := value&1 != 0
	if strobe || (c.strobe && !strobe) {
		c.shiftRegister = c.buttons
		c.bitPosition = 0
	}
	c.strobe = strobe
}

// Read returns the next serial bit. While strobe is held high, reads
// continuously return button A's live state. After the 8th bit, subsequent
// reads return 1 per the open-bus convention.
func (c *Controller) Read() uint8 {
	if c.strobe {
		return c.buttons & 1
	}

	if c.bitPosition >= 8 {
		return 1
	}

	bit := c.shiftRegister & 1
	c.shiftRegister >>= 1
	c.bitPosition++
	return bit
}

// Reset clears all controller state, as on a console power cycle.
func (c *Controller) Reset() {
	c.buttons = 0
	c.strobe = false
	c.shiftRegister = 0
	c.bitPosition = 0
}

// InputState aggregates both controller ports.
type InputState struct {
	Controller1 *Controller
	Controller2 *Controller
}

// NewInputState creates both controller ports in their reset state.
func NewInputState() *InputState {
	return &InputState{
		Controller1: New(),
		Controller2: New(),
	}
}

// Reset resets both controllers.
func (is *InputState) Reset() {
	is.Controller1.Reset()
	is.Controller2.Reset()
}

// SetButtons1 sets all button states for controller 1.
func (is *InputState) SetButtons1(buttons [8]bool) {
	is.Controller1.SetButtons(buttons)
}

// SetButtons2 sets all button states for controller 2.
func (is *InputState) SetButtons2(buttons [8]bool) {
	is.Controller2.SetButtons(buttons)
}

// Read services a CPU read of $4016 or $4017, applying the conventional
// $40 open-bus pattern to the upper bits of both ports.
func (is *InputState) Read(address uint16) uint8 {
	switch address {
	case 0x4016:
		return is.Controller1.Read() | openBusPattern
	case 0x4017:
		return is.Controller2.Read() | openBusPattern
	default:
		return 0
	}
}

// Write services a CPU write of $4016; both controllers observe the same
// strobe line.
func (is *InputState) Write(address uint16, value uint8) {
	if address == 0x4016 {
		is.Controller1.Write(value)
		is.Controller2.Write(value)
	}
}
