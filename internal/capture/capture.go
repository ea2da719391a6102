package capture

import (
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/kbinani/screenshot"

	"rdeskd/internal/constants"
)

var ErrProbeTimeout = errors.New("capture probe timed out")

// Displays enumerates the attached displays.
func Displays() []image.Rectangle {
	n := screenshot.NumActiveDisplays()
	out := make([]image.Rectangle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, screenshot.GetDisplayBounds(i))
	}
	return out
}

// Probe grabs one frame from the given display, bounded by the probe
// timeout. Privacy mode stays off unless a grab succeeds afterwards, so a
// wedged capture backend rolls the whole transition back.
func Probe(display int) error {
	type result struct {
		img *image.RGBA
		err error
	}
	ch := make(chan result, 1)
	go func() {
		if display >= screenshot.NumActiveDisplays() {
			ch <- result{err: fmt.Errorf("no display %d", display)}
			return
		}
		img, err := screenshot.CaptureDisplay(display)
		ch <- result{img: img, err: err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return fmt.Errorf("capture display %d: %w", display, r.err)
		}
		if r.img == nil || r.img.Bounds().Empty() {
			return fmt.Errorf("capture display %d: empty frame", display)
		}
		return nil
	case <-time.After(constants.CaptureProbeTimeout):
		return ErrProbeTimeout
	}
}
