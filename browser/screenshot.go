package browser

import (
	"bytes"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
	"image"
)

// screenshot saves a PNG of the page to the given path, resolved against the Session's Options.Dir. When maxWidth is
// positive the image is downsized to be at most maxWidth pixels wide.
func (s *Session) screenshot(path string, fullPage bool, maxWidth int) (err error) {
	path = s.Options.path(path)
	options := playwright.PageScreenshotOptions{FullPage: playwright.Bool(fullPage)}
	if maxWidth <= 0 {
		options.Path = playwright.String(path)
		if _, err = s.Page.Screenshot(options); err != nil {
			err = errors.Wrapf(err, "could not save screenshot to \"%s\"", path)
		}
		return
	}

	var b []byte
	if b, err = s.Page.Screenshot(options); err != nil {
		return errors.Wrap(err, "could not take screenshot")
	}
	var img image.Image
	if img, err = imaging.Decode(bytes.NewReader(b)); err != nil {
		return errors.Wrap(err, "could not decode screenshot")
	}
	return errors.Wrapf(imaging.Save(FitWidth(img, maxWidth), path), "could not save screenshot to \"%s\"", path)
}

// FitWidth downsizes the image so that it is at most maxWidth pixels wide, preserving its aspect ratio. Images that
// are already narrow enough are returned as they are.
func FitWidth(img image.Image, maxWidth int) image.Image {
	if maxWidth <= 0 || img.Bounds().Dx() <= maxWidth {
		return img
	}
	return imaging.Resize(img, maxWidth, 0, imaging.Lanczos)
}
