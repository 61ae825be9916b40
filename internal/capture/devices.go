// Package capture feeds microphone (or replayed) audio into a shared ring
// buffer.
package capture

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gordonklaus/portaudio"
)

var (
	// ErrNoDevice means no input device matched the selection.
	ErrNoDevice = errors.New("capture: no matching input device")
	// ErrDeviceInit means the audio system or stream could not be started.
	ErrDeviceInit = errors.New("capture: device initialisation failed")
)

// DeviceInfo describes an input-capable device. Index is the position in the
// input device list, not the host API index.
type DeviceInfo struct {
	Index      int
	Name       string
	HostAPI    string
	Channels   int
	SampleRate float64
	Default    bool

	pa *portaudio.DeviceInfo
}

func (d DeviceInfo) String() string {
	mark := ""
	if d.Default {
		mark = " (default)"
	}
	return fmt.Sprintf("[%d] %s [%s, %d ch, %.0f Hz]%s", d.Index, d.Name, d.HostAPI, d.Channels, d.SampleRate, mark)
}

// Initialize starts the PortAudio library. Every successful call must be
// paired with Terminate.
func Initialize() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceInit, err)
	}
	return nil
}

func Terminate() error {
	return portaudio.Terminate()
}

// ListDevices returns input-capable devices. Initialize must have been called.
func ListDevices() ([]DeviceInfo, error) {
	all, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: list devices: %v", ErrDeviceInit, err)
	}
	var defaultName string
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		defaultName = def.Name
	}

	var out []DeviceInfo
	for _, d := range all {
		if d.MaxInputChannels <= 0 {
			continue
		}
		info := DeviceInfo{
			Index:      len(out),
			Name:       d.Name,
			Channels:   d.MaxInputChannels,
			SampleRate: d.DefaultSampleRate,
			Default:    d.Name == defaultName,
			pa:         d,
		}
		if d.HostApi != nil {
			info.HostAPI = d.HostApi.Name
		}
		out = append(out, info)
	}
	return out, nil
}

// ParseMic interprets a --mic style value: a number is an index, anything
// else a name substring.
func ParseMic(value string) (index int, name string) {
	value = strings.TrimSpace(value)
	if value == "" {
		return -1, ""
	}
	if n, err := strconv.Atoi(value); err == nil && n >= 0 {
		return n, ""
	}
	return -1, value
}

// SelectDevice picks a device by index when index >= 0, otherwise by
// case-insensitive name substring, otherwise the default input device.
func SelectDevice(devices []DeviceInfo, index int, name string) (DeviceInfo, error) {
	if len(devices) == 0 {
		return DeviceInfo{}, fmt.Errorf("%w: no input devices available", ErrNoDevice)
	}
	if index >= 0 {
		if index >= len(devices) {
			return DeviceInfo{}, fmt.Errorf("%w: index %d out of range (0-%d)", ErrNoDevice, index, len(devices)-1)
		}
		return devices[index], nil
	}
	if name = strings.TrimSpace(name); name != "" {
		needle := strings.ToLower(name)
		for _, d := range devices {
			if strings.Contains(strings.ToLower(d.Name), needle) {
				return d, nil
			}
		}
		return DeviceInfo{}, fmt.Errorf("%w: no device name contains %q", ErrNoDevice, name)
	}
	for _, d := range devices {
		if d.Default {
			return d, nil
		}
	}
	return devices[0], nil
}
