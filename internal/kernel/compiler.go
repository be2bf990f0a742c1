// Package kernel implements the kernel-compilation pipeline (spec §4.6,
// C7): prolog injection, WGSL parse/lower/validate, entry-point and
// launch-parameter reflection, bind group layout, and pipeline creation.
package kernel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/ir"
	"github.com/gogpu/naga/wgsl"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gputypes"

	"github.com/gogpu/gpurt/internal/handle"
)

// LaunchParamsMax is the largest a kernel's launch-parameters uniform may
// be, matching the runtime's fixed push-constant-sized scratch.
const LaunchParamsMax = 48

// MaxDefines and DefineMaxLen bound the preprocessor defines a caller may
// pass to Init, mirroring the original's GPU_KERNEL_MAX_NUM_DEFINES /
// GPU_KERNEL_DEFINE_MAX_LEN.
const (
	MaxDefines   = 8
	DefineMaxLen = 48
)

// entryPointName is the one compute entry point every kernel must declare.
const entryPointName = "cs_main"

var (
	// ErrCompile wraps any parse, lower, or validation failure.
	ErrCompile = errors.New("kernel: compilation failed")
	// ErrReflect is returned when the compiled module doesn't match the
	// runtime's fixed ABI (missing/duplicate entry point, oversized launch
	// params, more than one launch-params uniform at group 0 binding 2).
	// Uniforms bound anywhere else are ignored, not rejected.
	ErrReflect = errors.New("kernel: reflection failed")
	// ErrTooManyDefines / ErrDefineTooLong reject oversized preprocessor input.
	ErrTooManyDefines = errors.New("kernel: too many preprocessor defines")
	ErrDefineTooLong  = errors.New("kernel: preprocessor define too long")
	// ErrInvalidHandle is returned by GroupDims/Destroy for an unknown kernel.
	ErrInvalidHandle = errors.New("kernel: invalid handle")
)

// Define is prepended to the source before parsing as a WGSL
// `const NAME = VALUE;` declaration; an empty Value becomes 1.
type Define struct {
	Name  string
	Value string
}

// Desc describes a kernel to compile.
type Desc struct {
	Source  string
	Defines []Define
}

type entry struct {
	pipeline      hal.ComputePipeline
	bindLayout    hal.BindGroupLayout
	pipelineLayout hal.PipelineLayout
	shaderModule  hal.ShaderModule
	workgroup     [3]uint32
	launchParamsSize uint32
}

// Compiler owns every live compiled kernel. Compiler is not safe for
// concurrent use (see spec §5).
type Compiler struct {
	device hal.Device
	pool   *handle.Pool[*entry]
}

// New creates a compiler bound to device, with room for capacity live
// kernels.
func New(device hal.Device, capacity int) *Compiler {
	return &Compiler{device: device, pool: handle.New[*entry](capacity)}
}

// Init compiles, reflects, and builds a pipeline for desc, returning a
// kernel handle.
func (c *Compiler) Init(desc Desc) (handle.Handle, error) {
	if len(desc.Defines) > MaxDefines {
		return handle.Handle{}, fmt.Errorf("%w: %d > %d", ErrTooManyDefines, len(desc.Defines), MaxDefines)
	}
	for _, d := range desc.Defines {
		if len(d.Name)+len(d.Value) > DefineMaxLen {
			return handle.Handle{}, fmt.Errorf("%w: %q", ErrDefineTooLong, d.Name)
		}
	}

	source := applyDefines(prolog+desc.Source, desc.Defines)

	mod, err := parseAndLower(source)
	if err != nil {
		return handle.Handle{}, err
	}

	workgroup, launchParamsSize, err := reflect(mod)
	if err != nil {
		return handle.Handle{}, err
	}

	spirv, err := naga.Compile(source)
	if err != nil {
		return handle.Handle{}, fmt.Errorf("%w: %v", ErrCompile, err)
	}
	spirvWords := bytesToWords(spirv)

	shaderModule, err := c.device.CreateShaderModule(&hal.ShaderModuleDescriptor{
		Label:  "gpurt.kernel",
		Source: hal.ShaderSource{SPIRV: spirvWords},
	})
	if err != nil {
		return handle.Handle{}, fmt.Errorf("kernel: create shader module: %w", err)
	}

	bindLayout, err := buildBindGroupLayout(c.device, launchParamsSize > 0)
	if err != nil {
		c.device.DestroyShaderModule(shaderModule)
		return handle.Handle{}, err
	}

	pipelineLayout, err := c.device.CreatePipelineLayout(&hal.PipelineLayoutDescriptor{
		Label:            "gpurt.kernel.layout",
		BindGroupLayouts: []hal.BindGroupLayout{bindLayout},
	})
	if err != nil {
		c.device.DestroyBindGroupLayout(bindLayout)
		c.device.DestroyShaderModule(shaderModule)
		return handle.Handle{}, fmt.Errorf("kernel: create pipeline layout: %w", err)
	}

	pipeline, err := c.device.CreateComputePipeline(&hal.ComputePipelineDescriptor{
		Label:  "gpurt.kernel.pipeline",
		Layout: pipelineLayout,
		Compute: hal.ComputeState{
			Module:     shaderModule,
			EntryPoint: entryPointName,
		},
	})
	if err != nil {
		c.device.DestroyPipelineLayout(pipelineLayout)
		c.device.DestroyBindGroupLayout(bindLayout)
		c.device.DestroyShaderModule(shaderModule)
		return handle.Handle{}, fmt.Errorf("kernel: create compute pipeline: %w", err)
	}

	e := &entry{
		pipeline:         pipeline,
		bindLayout:       bindLayout,
		pipelineLayout:   pipelineLayout,
		shaderModule:     shaderModule,
		workgroup:        workgroup,
		launchParamsSize: launchParamsSize,
	}
	return c.pool.Insert(e), nil
}

// Destroy releases a kernel's GPU objects and pool slot.
func (c *Compiler) Destroy(h handle.Handle) error {
	e, ok := c.pool.Get(h)
	if !ok {
		return ErrInvalidHandle
	}
	c.device.DestroyComputePipeline(e.pipeline)
	c.device.DestroyPipelineLayout(e.pipelineLayout)
	c.device.DestroyBindGroupLayout(e.bindLayout)
	c.device.DestroyShaderModule(e.shaderModule)
	return c.pool.Remove(h)
}

// GroupDims returns h's shader-declared workgroup dimensions.
func (c *Compiler) GroupDims(h handle.Handle) ([3]uint32, error) {
	e, ok := c.pool.Get(h)
	if !ok {
		return [3]uint32{}, ErrInvalidHandle
	}
	return e.workgroup, nil
}

// Pipeline returns h's compute pipeline and bind group layout for the
// submission engine to bind.
func (c *Compiler) Pipeline(h handle.Handle) (hal.ComputePipeline, hal.BindGroupLayout, uint32, bool) {
	e, ok := c.pool.Get(h)
	if !ok {
		return nil, nil, 0, false
	}
	return e.pipeline, e.bindLayout, e.launchParamsSize, true
}

func applyDefines(source string, defines []Define) string {
	if len(defines) == 0 {
		return source
	}
	var b strings.Builder
	for _, d := range defines {
		v := d.Value
		if v == "" {
			v = "1"
		}
		fmt.Fprintf(&b, "const %s = %s;\n", d.Name, v)
	}
	b.WriteString(source)
	return b.String()
}

func parseAndLower(source string) (*ir.Module, error) {
	lexer := wgsl.NewLexer(source)
	tokens, err := lexer.Tokenize()
	if err != nil {
		return nil, fmt.Errorf("%w: lex: %v", ErrCompile, err)
	}
	ast, err := wgsl.NewParser(tokens).Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrCompile, err)
	}
	mod, err := wgsl.LowerWithSource(ast, source)
	if err != nil {
		return nil, fmt.Errorf("%w: lower: %v", ErrCompile, err)
	}
	if verrs, err := ir.Validate(mod); err != nil {
		return nil, fmt.Errorf("%w: validate: %v", ErrCompile, err)
	} else if len(verrs) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrCompile, verrs[0])
	}
	return mod, nil
}

func reflect(mod *ir.Module) (workgroup [3]uint32, launchParamsSize uint32, err error) {
	var found *ir.EntryPoint
	for i := range mod.EntryPoints {
		ep := &mod.EntryPoints[i]
		if ep.Stage != ir.StageCompute {
			continue
		}
		if ep.Name != entryPointName {
			continue
		}
		if found != nil {
			return [3]uint32{}, 0, fmt.Errorf("%w: duplicate %s entry point", ErrReflect, entryPointName)
		}
		found = ep
	}
	if found == nil {
		return [3]uint32{}, 0, fmt.Errorf("%w: missing compute entry point %q", ErrReflect, entryPointName)
	}

	var launchParamsCount int
	for _, gv := range mod.GlobalVariables {
		if gv.Space != ir.SpaceUniform || gv.Binding == nil {
			continue
		}
		if gv.Binding.Group != 0 || gv.Binding.Binding != 2 {
			continue
		}
		launchParamsCount++
		size, err := structSpan(mod, gv.Type)
		if err != nil {
			return [3]uint32{}, 0, err
		}
		if size > LaunchParamsMax {
			return [3]uint32{}, 0, fmt.Errorf("%w: launch params size %d exceeds max %d", ErrReflect, size, LaunchParamsMax)
		}
		launchParamsSize = size
	}
	if launchParamsCount > 1 {
		return [3]uint32{}, 0, fmt.Errorf("%w: more than one launch-params uniform at (0,2)", ErrReflect)
	}

	return found.Workgroup, launchParamsSize, nil
}

func structSpan(mod *ir.Module, th ir.TypeHandle) (uint32, error) {
	if int(th) >= len(mod.Types) {
		return 0, fmt.Errorf("%w: type handle out of range", ErrReflect)
	}
	st, ok := mod.Types[th].Inner.(ir.StructType)
	if !ok {
		return 0, fmt.Errorf("%w: launch params type must be a struct", ErrReflect)
	}
	return st.Span, nil
}

func buildBindGroupLayout(device hal.Device, withLaunchParams bool) (hal.BindGroupLayout, error) {
	entries := []gputypes.BindGroupLayoutEntry{
		{
			Binding:    0,
			Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type: gputypes.BufferBindingTypeStorage,
			},
		},
		{
			Binding:    1,
			Visibility: gputypes.ShaderStageCompute,
			StorageTexture: &gputypes.StorageTextureBindingLayout{
				Access:        gputypes.StorageTextureAccessReadWrite,
				Format:        gputypes.TextureFormatRGBA32Float,
				ViewDimension: gputypes.TextureViewDimension2D,
			},
		},
	}
	if withLaunchParams {
		entries = append(entries, gputypes.BindGroupLayoutEntry{
			Binding:    2,
			Visibility: gputypes.ShaderStageCompute,
			Buffer: &gputypes.BufferBindingLayout{
				Type: gputypes.BufferBindingTypeUniform,
			},
		})
	}

	layout, err := device.CreateBindGroupLayout(&hal.BindGroupLayoutDescriptor{
		Label:   "gpurt.kernel.bindlayout",
		Entries: entries,
	})
	if err != nil {
		return nil, fmt.Errorf("kernel: create bind group layout: %w", err)
	}
	return layout, nil
}

func bytesToWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
	}
	return words
}

const prolog = `struct LaunchParams { data: array<u32, 12> }
@group(0) @binding(0) var<storage, read_write> gpu_global_heap: array<u32>;
@group(0) @binding(1) var gpu_rwtex_array: binding_array<texture_storage_2d<rgba32float, read_write>, 16384>;
const NULL_RWTEX: u32 = 0u;
const SWAPCHAIN_RWTEX: u32 = 1u;

fn ptrLoadU32(p: u32) -> u32 {
	return gpu_global_heap[p >> 2u];
}

fn ptrStoreU32(p: u32, v: u32) {
	gpu_global_heap[p >> 2u] = v;
}

fn getRWTex(idx: u32, coord: vec2<i32>) -> vec4<f32> {
	return textureLoad(gpu_rwtex_array[idx], coord);
}

fn setRWTex(idx: u32, coord: vec2<i32>, value: vec4<f32>) {
	textureStore(gpu_rwtex_array[idx], coord, value);
}

`
