package graphicscore

import (
	"fmt"
	"os"

	vk "github.com/vulkan-go/vulkan"
)

// shaderKey interns SPIR-V modules by (name, defines) per spec.md §4.6: defines
// participate in the shader-module cache key because they produce different SPIR-V.
type shaderKey struct {
	name    string
	defines string
}

// ShaderModule is one interned SPIR-V module plus its parsed reflection. Completion is
// the CompletionGroup that signals once both the bytecode load and reflection parse have
// finished; CompilationFailed is set if either step failed, per spec.md §7's "failure
// sets a flag on the... shader object; its wait-group still signals so callers don't
// deadlock."
type ShaderModule struct {
	Name       string
	Defines    string
	handle     vk.ShaderModule
	Reflection *ShaderReflection

	Completion        *CompletionGroup
	CompilationFailed bool
}

// ShaderLibrary generalizes the teacher's CoreShader/ShaderProgram pair (shader.go),
// replacing its synchronous, name-to-path map loading with async, (name,defines)-keyed
// interning driven through the job system.
type ShaderLibrary struct {
	device  vk.Device
	jobs    *JobSystem
	log     *componentLogger
	sourceDir string

	modules map[shaderKey]*ShaderModule
}

func NewShaderLibrary(device vk.Device, jobs *JobSystem, sourceDir string, log *componentLogger) *ShaderLibrary {
	return &ShaderLibrary{
		device:    device,
		jobs:      jobs,
		log:       log,
		sourceDir: sourceDir,
		modules:   map[shaderKey]*ShaderModule{},
	}
}

// Load interns the module named by (name, defines). On first request it enqueues a load
// task on the job system and returns a handle whose Completion signals when the SPIR-V
// is loaded and reflection has been parsed; subsequent requests with the same key return
// the same handle immediately.
func (l *ShaderLibrary) Load(name string, defines string) *ShaderModule {
	key := shaderKey{name: name, defines: defines}
	if m, ok := l.modules[key]; ok {
		return m
	}
	m := &ShaderModule{Name: name, Defines: defines, Completion: NewCompletionGroup()}
	l.modules[key] = m

	l.jobs.Go(m.Completion, func() bool {
		path := fmt.Sprintf("%s/%s%s.spv", l.sourceDir, name, defines)
		code, err := os.ReadFile(path)
		if err != nil {
			l.log.Warn().Str("shader", name).Err(err).Msg("failed to read SPIR-V module")
			m.CompilationFailed = true
			return false
		}
		words := sliceUint32(code)

		reflection, err := reflectSPIRV(words)
		if err != nil {
			l.log.Warn().Str("shader", name).Err(err).Msg("failed to reflect SPIR-V module")
			m.CompilationFailed = true
			return false
		}
		m.Reflection = reflection

		var handle vk.ShaderModule
		ret := vk.CreateShaderModule(l.device, &vk.ShaderModuleCreateInfo{
			SType:    vk.StructureTypeShaderModuleCreateInfo,
			CodeSize: uint(len(code)),
			PCode:    words,
		}, nil, &handle)
		if isError(ret) {
			l.log.Warn().Str("shader", name).Msg("failed to create shader module")
			m.CompilationFailed = true
			return false
		}
		m.handle = handle
		return true
	})
	return m
}

func (m *ShaderModule) Handle() vk.ShaderModule { return m.handle }

func (l *ShaderLibrary) Destroy() {
	for _, m := range l.modules {
		if m.handle != vk.NullShaderModule {
			vk.DestroyShaderModule(l.device, m.handle, nil)
		}
	}
}
