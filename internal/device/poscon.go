package device

import "github.com/tonylturner/sitecon/internal/command"

// posConDisplay tracks what every position controller on a cart shows.
type posConDisplay struct {
	positions int
	current   map[uint8]command.PosControllerInstr
}

func newPosConDisplay(positions int) *posConDisplay {
	return &posConDisplay{
		positions: positions,
		current:   make(map[uint8]command.PosControllerInstr),
	}
}

// set updates one position and returns the command that shows it.
func (p *posConDisplay) set(instr command.PosControllerInstr) command.Command {
	p.current[instr.Position] = instr
	return command.SetPosController{Instructions: []command.PosControllerInstr{instr}}
}

// replace makes instrs the complete display. Positions not in instrs are
// blanked in the same batch so the cart never shows a half-updated state.
func (p *posConDisplay) replace(instrs []command.PosControllerInstr) command.Command {
	next := make(map[uint8]command.PosControllerInstr, len(instrs))
	for _, in := range instrs {
		next[in.Position] = in
	}
	if len(next) == 0 {
		p.current = next
		return command.ClearPosController{Position: command.PositionAll}
	}

	batch := make([]command.PosControllerInstr, 0, p.positions)
	for pos := 1; pos <= p.positions; pos++ {
		if in, ok := next[uint8(pos)]; ok {
			batch = append(batch, in)
			continue
		}
		batch = append(batch, command.PosControllerInstr{Position: uint8(pos), Color: command.ColorOff})
	}
	p.current = next
	return command.SetPosController{Instructions: batch}
}

// get returns what pos currently shows.
func (p *posConDisplay) get(pos uint8) (command.PosControllerInstr, bool) {
	in, ok := p.current[pos]
	return in, ok
}

func clampQty(n int) uint8 {
	switch {
	case n < 0:
		return 0
	case n > command.MaxDisplayQty:
		return command.MaxDisplayQty
	default:
		return uint8(n)
	}
}
