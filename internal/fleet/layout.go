package fleet

import (
	"errors"
	"fmt"

	"github.com/tonylturner/sitecon/internal/command"
	"github.com/tonylturner/sitecon/internal/config"
	"github.com/tonylturner/sitecon/internal/device"
	"github.com/tonylturner/sitecon/internal/uplink"
)

// FromSpecs converts a server network layout. Devices of unknown kind are
// skipped and reported.
func FromSpecs(specs []uplink.DeviceSpec) ([]device.Info, error) {
	out := make([]device.Info, 0, len(specs))
	var errs []error
	for _, s := range specs {
		info, err := deviceInfo(s.ID, s.GUID, s.Kind, s.Positions)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, info)
	}
	return out, errors.Join(errs...)
}

// FromConfig converts the statically configured device list.
func FromConfig(devices []config.DeviceConfig) ([]device.Info, error) {
	out := make([]device.Info, 0, len(devices))
	var errs []error
	for _, d := range devices {
		info, err := deviceInfo(d.ID, d.GUID, d.Kind, d.Positions)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, info)
	}
	return out, errors.Join(errs...)
}

func deviceInfo(id, guid, kind string, positions int) (device.Info, error) {
	k := command.ParseDeviceKind(kind)
	if k == command.KindUnknown {
		return device.Info{}, fmt.Errorf("device %s: unknown kind %q", id, kind)
	}
	if guid == "" {
		return device.Info{}, fmt.Errorf("device %s: missing guid", id)
	}
	return device.Info{ID: id, GUID: guid, Kind: k, Positions: positions}, nil
}
