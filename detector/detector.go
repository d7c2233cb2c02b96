package detector

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/cwbudde/algo-vecmath/cpu"
	"github.com/openfluke/loomscan/gpu"
	"github.com/openfluke/webgpu/wgpu"
)

/* ---------- public API ---------- */

// Report is a portable summary of the adapter a scan would run on and of
// the host CPU that runs the reference backend.
type Report struct {
	WhenISO     string            `json:"when_iso"`
	Runtime     string            `json:"runtime"` // "native" or "wasm" (best-effort)
	Backend     string            `json:"backend,omitempty"`
	AdapterType string            `json:"adapter_type,omitempty"`
	VendorID    string            `json:"vendor_id_hex,omitempty"`
	DeviceID    string            `json:"device_id_hex,omitempty"`
	Name        string            `json:"name,omitempty"`
	Vendor      string            `json:"vendor,omitempty"`
	Driver      string            `json:"driver,omitempty"`
	Recommended Recommendations   `json:"recommended"`
	Limits      *Limits           `json:"limits,omitempty"`
	Features    []string          `json:"features,omitempty"`
	CPU         CPUReport         `json:"cpu"`
	Env         map[string]string `json:"env,omitempty"`
}

type Limits struct {
	MaxComputeInvocationsPerWorkgroup uint32 `json:"max_compute_invocations_per_workgroup"`
	MaxComputeWorkgroupSizeX          uint32 `json:"max_compute_workgroup_size_x"`
	MaxComputeWorkgroupsPerDimension  uint32 `json:"max_compute_workgroups_per_dimension"`
	MaxComputeWorkgroupStorageSize    uint32 `json:"max_compute_workgroup_storage_size"`
	MaxStorageBufferBindingSize       uint64 `json:"max_storage_buffer_binding_size"`
	MaxBufferSize                     uint64 `json:"max_buffer_size"`
}

type Recommendations struct {
	// Largest power-of-two block one workgroup can scan.
	BlockSize uint32 `json:"block_size"`

	// Largest sequence whose padded buffers fit a single storage binding
	// and whose blocks fit a 2D dispatch. Zero for CPU-only reports.
	MaxElements uint64 `json:"max_elements"`

	// Soft VRAM/heap budget in bytes for staging + temps.
	BudgetBytes uint64 `json:"budget_bytes"`
}

// CPUReport describes the host the reference backend runs on.
type CPUReport struct {
	Architecture string   `json:"architecture"`
	SIMD         []string `json:"simd"`
	Workers      int      `json:"workers"`
}

// DetectJSON runs a probe and returns the JSON string.
func DetectJSON(cfg gpu.Config) (string, error) {
	rep, err := Detect(cfg)
	if err != nil {
		return "", err
	}
	return rep.JSON()
}

// JSON renders the report indented.
func (r *Report) JSON() (string, error) {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DetectCPU builds a report without touching any GPU.
func DetectCPU() *Report {
	return &Report{
		WhenISO: time.Now().UTC().Format(time.RFC3339),
		Runtime: detectRuntime(),
		Recommended: Recommendations{
			BlockSize:   256,
			BudgetBytes: budgetBytes(),
		},
		CPU: detectCPU(),
		Env: pickEnv([]string{"LOOM_BUDGET_MB", "LOOMSCAN_VENDOR"}),
	}
}

// Detect opens the adapter cfg selects (the same one gpu.Open would use)
// and synthesizes a report from its info and limits.
func Detect(cfg gpu.Config) (*Report, error) {
	ctx, err := gpu.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("detect: %w", err)
	}
	defer ctx.Release()

	info := ctx.Adapter.GetInfo()
	limits := ctx.Adapter.GetLimits()

	// Enumerate features (adapter-level).
	var feats []string
	for _, f := range ctx.Adapter.EnumerateFeatures() {
		feats = append(feats, featureName(f))
	}

	lim := &Limits{
		MaxComputeInvocationsPerWorkgroup: limits.Limits.MaxComputeInvocationsPerWorkgroup,
		MaxComputeWorkgroupSizeX:          limits.Limits.MaxComputeWorkgroupSizeX,
		MaxComputeWorkgroupsPerDimension:  limits.Limits.MaxComputeWorkgroupsPerDimension,
		MaxComputeWorkgroupStorageSize:    limits.Limits.MaxComputeWorkgroupStorageSize,
		MaxStorageBufferBindingSize:       limits.Limits.MaxStorageBufferBindingSize,
		MaxBufferSize:                     limits.Limits.MaxBufferSize,
	}

	rep := DetectCPU()
	rep.Backend = backendName(info.BackendType)
	rep.AdapterType = adapterTypeName(info.AdapterType)
	rep.VendorID = fmt.Sprintf("0x%04x", info.VendorId)
	rep.DeviceID = fmt.Sprintf("0x%04x", info.DeviceId)
	rep.Name = strings.TrimSpace(info.Name)
	rep.Vendor = strings.TrimSpace(info.VendorName)
	rep.Driver = strings.TrimSpace(info.DriverDescription)
	rep.Limits = lim
	rep.Features = feats
	rep.Recommended.BlockSize = chooseBlockSize(lim.MaxComputeWorkgroupSizeX, lim.MaxComputeInvocationsPerWorkgroup, lim.MaxComputeWorkgroupStorageSize)
	rep.Recommended.MaxElements = maxElements(lim.MaxStorageBufferBindingSize, lim.MaxComputeWorkgroupsPerDimension, rep.Recommended.BlockSize)
	return rep, nil
}

/* ---------- helpers ---------- */

// chooseBlockSize picks the widest power-of-two workgroup whose ping-pong
// scratch (two df64 pairs, 16 bytes per lane) fits workgroup storage.
func chooseBlockSize(maxX, maxTot, storageBytes uint32) uint32 {
	candidates := []uint32{256, 128, 64, 32, 16, 8, 4, 2}
	for _, c := range candidates {
		if c <= maxX && c <= maxTot && (storageBytes == 0 || 16*c <= storageBytes) {
			return c
		}
	}
	return 0
}

// maxElements bounds N by the storage binding size (8-byte df64 elements)
// and by the number of blocks a 2D dispatch can address.
func maxElements(bindingBytes uint64, perDim, block uint32) uint64 {
	if block == 0 {
		return 0
	}
	byBinding := bindingBytes / 8
	byBinding -= byBinding % uint64(block)
	byGrid := uint64(perDim) * uint64(perDim) * uint64(block)
	return min(byBinding, byGrid)
}

func detectCPU() CPUReport {
	f := cpu.DetectFeatures()
	var simd []string
	if f.HasSSE2 {
		simd = append(simd, "sse2")
	}
	if f.HasAVX2 {
		simd = append(simd, "avx2")
	}
	if f.HasNEON {
		simd = append(simd, "neon")
	}
	if f.ForceGeneric || len(simd) == 0 {
		simd = []string{"generic"}
	}
	return CPUReport{
		Architecture: f.Architecture,
		SIMD:         simd,
		Workers:      runtime.GOMAXPROCS(0),
	}
}

func budgetBytes() uint64 {
	budget := uint64(128 * 1024 * 1024)
	if mbStr := os.Getenv("LOOM_BUDGET_MB"); mbStr != "" {
		if mb, err := strconv.Atoi(mbStr); err == nil && mb > 0 {
			budget = uint64(mb) * 1024 * 1024
		}
	}
	return budget
}

func featureName(f wgpu.FeatureName) string     { return f.String() }
func backendName(b wgpu.BackendType) string     { return b.String() }
func adapterTypeName(t wgpu.AdapterType) string { return t.String() }

func detectRuntime() string {
	if runtime.GOOS == "js" {
		return "wasm"
	}
	return "native"
}

func pickEnv(keys []string) map[string]string {
	out := map[string]string{}
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
