package browser

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"

	"github.com/go-rod/rod/lib/proto"
)

// Screenshot captures the current frame as JPEG at the given quality and
// returns the encoded bytes with the frame dimensions in physical pixels.
// The encoding happens in the browser; nothing is re-encoded or written to
// disk on this path.
func (d *Driver) Screenshot(ctx context.Context, quality int) ([]byte, int, int, error) {
	if d.page == nil {
		return nil, 0, 0, fmt.Errorf("%w: no page", ErrExecutionFailed)
	}
	if quality <= 0 || quality > 100 {
		quality = 95
	}

	req := &proto.PageCaptureScreenshot{
		Format:      proto.PageCaptureScreenshotFormatJpeg,
		Quality:     &quality,
		FromSurface: true,
	}
	data, err := d.page.Context(ctx).Timeout(d.cfg.actionTimeout()).Screenshot(false, req)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: screenshot: %v", ErrExecutionFailed, err)
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("%w: decode screenshot header: %v", ErrExecutionFailed, err)
	}
	return data, cfg.Width, cfg.Height, nil
}
