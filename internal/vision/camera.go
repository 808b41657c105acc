package vision

import (
	"context"
	"fmt"
	"sync"

	"gocv.io/x/gocv"
)

// DeviceCamera grabs frames from a V4L2/USB camera via OpenCV and writes them
// as JPEG. The device stays open between captures.
type DeviceCamera struct {
	mu     sync.Mutex
	device *gocv.VideoCapture
	frame  gocv.Mat
	// warmup frames are discarded so auto-exposure can settle
	warmup int
}

// OpenDeviceCamera opens camera index id.
func OpenDeviceCamera(id int, warmup int) (*DeviceCamera, error) {
	device, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("failed to open camera %d: %w", id, err)
	}
	if !device.IsOpened() {
		device.Close()
		return nil, fmt.Errorf("camera %d is not available", id)
	}
	return &DeviceCamera{device: device, frame: gocv.NewMat(), warmup: warmup}, nil
}

// CaptureTo reads a fresh frame and writes it to path.
func (c *DeviceCamera) CaptureTo(ctx context.Context, path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i := 0; i <= c.warmup; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok := c.device.Read(&c.frame); !ok {
			return fmt.Errorf("camera read failed")
		}
	}
	if c.frame.Empty() {
		return fmt.Errorf("camera returned an empty frame")
	}
	if ok := gocv.IMWrite(path, c.frame); !ok {
		return fmt.Errorf("failed to write image %s", path)
	}
	return nil
}

// Close releases the frame buffer and the device.
func (c *DeviceCamera) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame.Close()
	return c.device.Close()
}
