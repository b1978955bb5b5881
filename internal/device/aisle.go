package device

import (
	"fmt"
	"strings"

	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/logging"
	"github.com/tonylturner/sitecon/internal/uplink"
)

// span is one lit LED range on an aisle controller.
type span struct {
	Location string
	Channel  uint8
	FirstLED uint16
	Count    uint16
	Color    command.Color
}

func (s span) command(color command.Color) command.LightLocation {
	return command.LightLocation{Channel: s.Channel, FirstLED: s.FirstLED, Count: s.Count, Color: color}
}

// aisle lights location spans requested by the server.
type aisle struct {
	info Info
	env  Env
	log  *logging.Logger

	online     bool
	associated bool
	netAddr    uint8

	// wanted is what the server asked for; lit is what the hardware shows.
	wanted []span
	lit    []span
}

func newAisle(info Info, env Env) *aisle {
	return &aisle{info: info, env: env, log: env.Logger}
}

func (a *aisle) stateName() string {
	switch {
	case !a.associated:
		return "Idle"
	case !a.online:
		return "Unavailable"
	case len(a.lit) > 0:
		return "Lit"
	default:
		return "Dark"
	}
}

func (a *aisle) handle(ev Event) {
	switch ev.Kind {
	case EventStarted:
		a.associated = true
		a.netAddr = ev.NetAddr
		a.lit = nil
		a.log.Info("Aisle %s started at net address %d", a.info.ID, ev.NetAddr)
		a.render()
	case EventConnected:
		a.online = true
		a.render()
	case EventDisconnected:
		a.online = false
		a.render()
	case EventLights:
		a.wanted = a.parseLights(ev.Lights)
		a.render()
	case EventCommand:
		switch cmd := ev.Command.(type) {
		case command.Scan:
			if strings.EqualFold(cmd.Value, scanControl+"%"+ctlClear) {
				a.clear("clear scan")
				return
			}
			a.log.Verbose("Aisle %s: ignoring scan %q", a.info.ID, cmd.Value)
		case command.Button:
			a.clear(fmt.Sprintf("button %d", cmd.Position))
		default:
			a.log.Verbose("Aisle %s: ignoring %s", a.info.ID, ev.Command.Type())
		}
	default:
		a.log.Verbose("Aisle %s: ignoring %s event", a.info.ID, ev.Kind)
	}
}

func (a *aisle) clear(why string) {
	a.log.Verbose("Aisle %s: lights cleared by %s", a.info.ID, why)
	a.wanted = nil
	a.render()
}

func (a *aisle) parseLights(lights []uplink.LocationLight) []span {
	out := make([]span, 0, len(lights))
	for _, l := range lights {
		color, ok := command.ParseColor(strings.ToLower(l.Color))
		switch {
		case !ok:
			a.log.Error("Aisle %s: location %s has unknown color %q", a.info.ID, l.Location, l.Color)
			continue
		case l.Channel < 0 || l.Channel > 15:
			a.log.Error("Aisle %s: location %s channel %d out of range", a.info.ID, l.Location, l.Channel)
			continue
		case l.FirstLED < 0 || l.FirstLED > 0xFFFF || l.Count < 1 || l.Count > 0xFFFF:
			a.log.Error("Aisle %s: location %s LED span %d+%d out of range", a.info.ID, l.Location, l.FirstLED, l.Count)
			continue
		}
		out = append(out, span{
			Location: l.Location,
			Channel:  uint8(l.Channel),
			FirstLED: uint16(l.FirstLED),
			Count:    uint16(l.Count),
			Color:    color,
		})
	}
	return out
}

// render turns off what is lit and lights what is wanted. Nothing is lit
// while the uplink is down.
func (a *aisle) render() {
	if !a.associated {
		return
	}
	var target []span
	if a.online {
		target = a.wanted
	}
	for _, s := range a.lit {
		a.send(s.command(command.ColorOff))
	}
	for _, s := range target {
		a.send(s.command(s.Color))
	}
	a.lit = append([]span(nil), target...)
}

func (a *aisle) send(cmd command.Command) {
	if err := a.env.Radio.SendCommand(a.netAddr, cmd); err != nil {
		a.log.Error("Aisle %s: send %s: %v", a.info.ID, cmd.Type(), err)
	}
}
