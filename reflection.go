package graphicscore

// SPIR-V reflection: a hand-rolled binary instruction-stream walker. No reflection
// library appears anywhere in the retrieval pack (see DESIGN.md), so this follows the
// teacher's own manual byte-to-word conversion approach (shader.go's sliceUint32,
// generalized in util.go) applied to the instruction stream itself instead of stopping at
// module upload.

const (
	spirvMagic          = 0x07230203
	opEntryPoint  uint16 = 15
	opName        uint16 = 5
	opTypeStruct  uint16 = 30
	opVariable    uint16 = 59
	opDecorate    uint16 = 71
	opTypePointer uint16 = 32

	decorationBinding         = 33
	decorationDescriptorSet   = 34
	decorationSpecID          = 1

	storageClassUniform        = 2
	storageClassUniformConstant = 0
	storageClassStorageBuffer  = 12
	storageClassPushConstant   = 9
)

// ShaderResourceBinding names one descriptor-set binding reflected from a module
// (spec.md §6: "the reflection layer consumes SPIR-V to produce... ShaderResourceBinding").
type ShaderResourceBinding struct {
	Name    string
	Set     uint32
	Binding uint32
}

// ShaderRootConstant names a push-constant block reflected from a module. reflectSPIRV
// fills in Name only; Offset and Size are left zero.
type ShaderRootConstant struct {
	Name   string
	Offset uint32
	Size   uint32
}

// SpecializationConstant names a spec-constant reflected by OpDecorate SpecId.
type SpecializationConstant struct {
	Name string
	ID   uint32
}

// ShaderReflection is the parsed output of reflectSPIRV: entry-point name, resource
// bindings, root constants, and specialization-constant names. Vertex input attributes
// are not reflected.
type ShaderReflection struct {
	EntryPoint     string
	ResourceBindings []ShaderResourceBinding
	RootConstants    []ShaderRootConstant
	SpecConstants    []SpecializationConstant
}

// reflectSPIRV walks a SPIR-V 1.x module's instruction stream and extracts the subset of
// metadata spec.md §6 requires. It assumes little-endian byte order, which is what
// vk.CreateShaderModule itself requires on every platform this package targets.
func reflectSPIRV(code []uint32) (*ShaderReflection, error) {
	if len(code) < 5 || code[0] != spirvMagic {
		return nil, errInvalidSPIRV
	}
	r := &ShaderReflection{}
	names := map[uint32]string{}
	variableStorage := map[uint32]uint32{}
	specIDs := map[uint32]uint32{}

	i := 5
	for i < len(code) {
		word := code[i]
		wordCount := word >> 16
		opcode := uint16(word & 0xffff)
		if wordCount == 0 || i+int(wordCount) > len(code) {
			break
		}
		operands := code[i+1 : i+int(wordCount)]

		switch opcode {
		case opEntryPoint:
			if len(operands) >= 3 {
				r.EntryPoint = decodeSPIRVString(operands[2:])
			}
		case opName:
			if len(operands) >= 2 {
				names[operands[0]] = decodeSPIRVString(operands[1:])
			}
		case opDecorate:
			if len(operands) >= 3 && operands[1] == decorationBinding {
				id := operands[0]
				binding := operands[2]
				r.ResourceBindings = append(r.ResourceBindings, ShaderResourceBinding{
					Name: names[id], Binding: binding,
				})
			}
			if len(operands) >= 3 && operands[1] == decorationDescriptorSet {
				id := operands[0]
				set := operands[2]
				for idx := range r.ResourceBindings {
					if names[id] == r.ResourceBindings[idx].Name {
						r.ResourceBindings[idx].Set = set
					}
				}
			}
			if len(operands) >= 3 && operands[1] == decorationSpecID {
				specIDs[operands[0]] = operands[2]
			}
		case opVariable:
			if len(operands) >= 3 {
				resultID := operands[1]
				storageClass := operands[2]
				variableStorage[resultID] = storageClass
				if storageClass == storageClassPushConstant {
					r.RootConstants = append(r.RootConstants, ShaderRootConstant{Name: names[resultID]})
				}
			}
		}
		i += int(wordCount)
	}

	for id, specID := range specIDs {
		r.SpecConstants = append(r.SpecConstants, SpecializationConstant{Name: names[id], ID: specID})
	}
	return r, nil
}

// decodeSPIRVString decodes a nul-terminated UTF-8 literal packed little-endian across
// the given words, per the SPIR-V binary literal-string encoding.
func decodeSPIRVString(words []uint32) string {
	buf := make([]byte, 0, len(words)*4)
	for _, w := range words {
		for shift := 0; shift < 32; shift += 8 {
			b := byte(w >> shift)
			if b == 0 {
				return string(buf)
			}
			buf = append(buf, b)
		}
	}
	return string(buf)
}

type reflectionError string

func (e reflectionError) Error() string { return string(e) }

const errInvalidSPIRV = reflectionError("graphicscore: invalid SPIR-V module (bad magic number)")
