package gpu

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openfluke/webgpu/wgpu"
)

// DefaultVendor is matched against adapter names when LOOMSCAN_VENDOR is unset.
const DefaultVendor = "nvidia"

// Config selects and tunes a WebGPU context.
type Config struct {
	// Vendor is a case-insensitive substring matched against the adapter's
	// name and vendor name. Empty accepts any adapter.
	Vendor string

	// Fallback allows the power-preference chain when no adapter matches Vendor.
	Fallback bool

	// ReadTimeout bounds how long a buffer readback may wait for mapping.
	ReadTimeout time.Duration
}

// DefaultConfig reads LOOMSCAN_VENDOR and otherwise matches DefaultVendor
// without fallback.
func DefaultConfig() Config {
	vendor := DefaultVendor
	if v, ok := os.LookupEnv("LOOMSCAN_VENDOR"); ok {
		vendor = v
	}
	return Config{Vendor: vendor, ReadTimeout: 10 * time.Second}
}

// Context holds one WebGPU instance/adapter/device/queue and the limits the
// scan kernels care about.
type Context struct {
	Instance *wgpu.Instance
	Adapter  *wgpu.Adapter
	Device   *wgpu.Device
	Queue    *wgpu.Queue

	AdapterName string
	VendorName  string

	MaxInvocationsPerWorkgroup uint32
	MaxWorkgroupSizeX          uint32
	MaxWorkgroupsPerDimension  uint32

	ReadTimeout time.Duration
}

// MatchVendor reports whether an adapter's name or vendor name contains want,
// ignoring case. An empty want matches everything.
func MatchVendor(name, vendorName, want string) bool {
	if want == "" {
		return true
	}
	want = strings.ToLower(want)
	return strings.Contains(strings.ToLower(name), want) ||
		strings.Contains(strings.ToLower(vendorName), want)
}

// Open creates a new context on the first adapter matching cfg.Vendor.
func Open(cfg Config) (*Context, error) {
	c := &Context{ReadTimeout: cfg.ReadTimeout}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 10 * time.Second
	}

	c.Instance = wgpu.CreateInstance(nil)
	if c.Instance == nil {
		return nil, fmt.Errorf("%w: failed to create WebGPU instance", ErrNoAdapter)
	}

	if cfg.Vendor != "" {
		for _, a := range c.Instance.EnumerateAdapters(nil) {
			info := a.GetInfo()
			if Debug {
				Log("Adapter: %s (Vendor: %s, DeviceID: 0x%X, VendorID: 0x%X, Type: %d)",
					info.Name, info.VendorName, info.DeviceId, info.VendorId, info.AdapterType)
			}
			if MatchVendor(info.Name, info.VendorName, cfg.Vendor) {
				c.Adapter = a
				break
			}
		}
		if c.Adapter == nil && !cfg.Fallback {
			c.Release()
			return nil, fmt.Errorf("%w: no adapter matches vendor %q", ErrNoAdapter, cfg.Vendor)
		}
	}

	if c.Adapter == nil {
		if err := c.requestFallback(); err != nil {
			c.Release()
			return nil, err
		}
	}

	info := c.Adapter.GetInfo()
	c.AdapterName = strings.TrimSpace(info.Name)
	c.VendorName = strings.TrimSpace(info.VendorName)
	if Debug {
		Log("Using GPU Adapter: %s (Vendor: %s)", c.AdapterName, c.VendorName)
	}

	limits := c.Adapter.GetLimits()
	c.MaxInvocationsPerWorkgroup = limits.Limits.MaxComputeInvocationsPerWorkgroup
	c.MaxWorkgroupSizeX = limits.Limits.MaxComputeWorkgroupSizeX
	c.MaxWorkgroupsPerDimension = limits.Limits.MaxComputeWorkgroupsPerDimension

	var err error
	c.Device, err = c.Adapter.RequestDevice(nil)
	if err != nil {
		c.Release()
		return nil, fmt.Errorf("%w: request device: %v", ErrNoAdapter, err)
	}
	c.Queue = c.Device.GetQueue()
	if c.Queue == nil {
		c.Release()
		return nil, fmt.Errorf("%w: device has no queue", ErrNoAdapter)
	}
	return c, nil
}

// requestFallback tries high performance, then low power, then the default adapter.
func (c *Context) requestFallback() error {
	var err error
	for _, opts := range []*wgpu.RequestAdapterOptions{
		{PowerPreference: wgpu.PowerPreferenceHighPerformance},
		{PowerPreference: wgpu.PowerPreferenceLowPower},
		nil,
	} {
		c.Adapter, err = c.Instance.RequestAdapter(opts)
		if err == nil && c.Adapter != nil {
			return nil
		}
		if Debug {
			Log("adapter request failed: %v. Falling back...", err)
		}
	}
	return fmt.Errorf("%w: all adapter attempts failed: %v", ErrNoAdapter, err)
}

// Release frees the device, adapter and instance.
func (c *Context) Release() {
	if c.Device != nil {
		c.Device.Release()
		c.Device = nil
	}
	if c.Adapter != nil {
		c.Adapter.Release()
		c.Adapter = nil
	}
	if c.Instance != nil {
		c.Instance.Release()
		c.Instance = nil
	}
	c.Queue = nil
}
