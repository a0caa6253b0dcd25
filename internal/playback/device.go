package playback

import (
	"fmt"
	"strings"
)

// NopDevice discards audio. Used when no output is configured.
type NopDevice struct{}

func (NopDevice) Enqueue([]int16, int) error { return nil }
func (NopDevice) Start() error               { return nil }
func (NopDevice) Stop() error                { return nil }
func (NopDevice) Shutdown() error            { return nil }

// MultiDevice fans every call out to all devices, attempting each one even when
// an earlier device fails.
type MultiDevice []Device

func (m MultiDevice) Enqueue(samples []int16, sampleRate int) error {
	return m.each(func(d Device) error { return d.Enqueue(samples, sampleRate) })
}

func (m MultiDevice) Start() error    { return m.each(Device.Start) }
func (m MultiDevice) Stop() error     { return m.each(Device.Stop) }
func (m MultiDevice) Shutdown() error { return m.each(Device.Shutdown) }

func (m MultiDevice) each(fn func(Device) error) error {
	var errs []string
	for _, d := range m {
		if d == nil {
			continue
		}
		if err := fn(d); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
