package browser

import (
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/playwright-community/playwright-go"
	"golang.org/x/exp/slices"
	"path/filepath"
)

// Engine is one of the browser engines that playwright can drive.
type Engine string

const (
	Chromium Engine = "chromium"
	Firefox  Engine = "firefox"
	WebKit   Engine = "webkit"
)

// DefaultTimeout is the default timeout (in milliseconds) for launching a browser and for every page action.
const DefaultTimeout = 30000.0

var engines = mapset.NewThreadUnsafeSet(Chromium, Firefox, WebKit)

// Engines returns all the Engine that can be launched, sorted alphabetically.
func Engines() []Engine {
	all := engines.ToSlice()
	slices.Sort(all)
	return all
}

// ParseEngine returns the Engine with the given name.
func ParseEngine(name string) (Engine, error) {
	engine := Engine(name)
	if !engines.Contains(engine) {
		return "", errors.Errorf("%q is not a browser engine, must be one of %v", name, Engines())
	}
	return engine, nil
}

func (e Engine) String() string { return string(e) }

// browserType returns the playwright.BrowserType for the Engine.
func (e Engine) browserType(pw *playwright.Playwright) (playwright.BrowserType, error) {
	switch e {
	case Chromium:
		return pw.Chromium, nil
	case Firefox:
		return pw.Firefox, nil
	case WebKit:
		return pw.WebKit, nil
	default:
		return nil, errors.Errorf("cannot launch unknown engine %q", e)
	}
}

// Viewport is the size of the page in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Geolocation is the position that is reported to pages that are granted the "geolocation" permission.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Options for NewSession.
type Options struct {
	Headless bool
	// Engine defaults to Chromium.
	Engine    Engine
	UserAgent string
	Viewport  *Viewport
	// Device is the name of a device descriptor from playwright.Playwright.Devices, such as "iPhone 11 Pro". The
	// device's user agent, viewport, scale factor, and touch support are used unless they are overridden.
	Device      string
	Geolocation *Geolocation
	Locale      string
	Permissions []string
	// RecordVideoDir is the directory that videos of each page are saved to. No videos are recorded when empty.
	RecordVideoDir string
	// Timeout is in milliseconds and defaults to DefaultTimeout.
	Timeout float64
	// Dir is the directory that relative paths given to commands are resolved against.
	Dir string
}

func (o Options) engine() Engine {
	if o.Engine == "" {
		return Chromium
	}
	return o.Engine
}

func (o Options) timeout() float64 {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

// path resolves the given path against Dir.
func (o Options) path(p string) string {
	if filepath.IsAbs(p) || o.Dir == "" {
		return p
	}
	return filepath.Join(o.Dir, p)
}

func (o Options) launchOptions() playwright.BrowserTypeLaunchOptions {
	return playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(o.Headless),
		Timeout:  playwright.Float(o.timeout()),
	}
}

// contextOptions builds the playwright.BrowserNewContextOptions for the Options. devices is the device descriptor
// registry which Device is looked up in.
func (o Options) contextOptions(devices map[string]*playwright.DeviceDescriptor) (options playwright.BrowserNewContextOptions, err error) {
	if o.Device != "" {
		device, ok := devices[o.Device]
		if !ok || device == nil {
			return options, errors.Errorf("there is no device descriptor for %q", o.Device)
		}
		options.UserAgent = playwright.String(device.UserAgent)
		options.Viewport = device.Viewport
		options.DeviceScaleFactor = playwright.Float(device.DeviceScaleFactor)
		options.IsMobile = playwright.Bool(device.IsMobile)
		options.HasTouch = playwright.Bool(device.HasTouch)
	}

	if o.UserAgent != "" {
		options.UserAgent = playwright.String(o.UserAgent)
	}
	if o.Viewport != nil {
		options.Viewport = &playwright.Size{Width: o.Viewport.Width, Height: o.Viewport.Height}
	}
	if o.Geolocation != nil {
		options.Geolocation = &playwright.Geolocation{Latitude: o.Geolocation.Latitude, Longitude: o.Geolocation.Longitude}
	}
	if o.Locale != "" {
		options.Locale = playwright.String(o.Locale)
	}
	if len(o.Permissions) > 0 {
		options.Permissions = o.Permissions
	}
	if o.RecordVideoDir != "" {
		options.RecordVideo = &playwright.RecordVideo{Dir: o.path(o.RecordVideoDir)}
	}
	return options, nil
}
