package tracking

import (
	"errors"
	"fmt"
)

// Blend shape groups. Each group can carry its own shaping curve.
const (
	GroupLeftEye  = "Left Eye"
	GroupRightEye = "Right Eye"
	GroupMouth    = "Mouth"
	GroupJaw      = "Jaw"
	GroupTongue   = "Tongue"
	GroupNose     = "Nose"
	GroupCheek    = "Cheek"
	// GroupNone always uses the identity curve.
	GroupNone = ""
)

// Groups lists the named groups in display order.
var Groups = []string{GroupLeftEye, GroupRightEye, GroupMouth, GroupJaw, GroupTongue, GroupNose, GroupCheek}

// BlendShapeDef declares a blend shape and the group whose curve shapes it.
type BlendShapeDef struct {
	Name  string `json:"name"`
	Group string `json:"group"`
}

// DefaultBones returns the humanoid bones driven by VMC bone messages.
func DefaultBones() []string {
	return []string{"Head", "Neck", "Chest", "Spine", "Hips"}
}

// DefaultBlendShapes returns the 52 ARKit perfect-sync blend shapes.
func DefaultBlendShapes() []BlendShapeDef {
	return []BlendShapeDef{
		{"EyeBlinkLeft", GroupLeftEye},
		{"EyeLookDownLeft", GroupLeftEye},
		{"EyeLookInLeft", GroupLeftEye},
		{"EyeLookOutLeft", GroupLeftEye},
		{"EyeLookUpLeft", GroupLeftEye},
		{"EyeSquintLeft", GroupLeftEye},
		{"EyeWideLeft", GroupLeftEye},
		{"EyeBlinkRight", GroupRightEye},
		{"EyeLookDownRight", GroupRightEye},
		{"EyeLookInRight", GroupRightEye},
		{"EyeLookOutRight", GroupRightEye},
		{"EyeLookUpRight", GroupRightEye},
		{"EyeSquintRight", GroupRightEye},
		{"EyeWideRight", GroupRightEye},
		{"JawForward", GroupJaw},
		{"JawLeft", GroupJaw},
		{"JawRight", GroupJaw},
		{"JawOpen", GroupJaw},
		{"MouthClose", GroupMouth},
		{"MouthFunnel", GroupMouth},
		{"MouthPucker", GroupMouth},
		{"MouthRight", GroupMouth},
		{"MouthLeft", GroupMouth},
		{"MouthSmileRight", GroupMouth},
		{"MouthSmileLeft", GroupMouth},
		{"MouthFrownRight", GroupMouth},
		{"MouthFrownLeft", GroupMouth},
		{"MouthDimpleLeft", GroupMouth},
		{"MouthDimpleRight", GroupMouth},
		{"MouthStretchLeft", GroupMouth},
		{"MouthStretchRight", GroupMouth},
		{"MouthRollLower", GroupMouth},
		{"MouthRollUpper", GroupMouth},
		{"MouthShrugLower", GroupMouth},
		{"MouthShrugUpper", GroupMouth},
		{"MouthPressLeft", GroupMouth},
		{"MouthPressRight", GroupMouth},
		{"MouthLowerDownLeft", GroupMouth},
		{"MouthLowerDownRight", GroupMouth},
		{"MouthUpperUpLeft", GroupMouth},
		{"MouthUpperUpRight", GroupMouth},
		{"BrowDownLeft", GroupLeftEye},
		{"BrowDownRight", GroupRightEye},
		{"BrowInnerUp", GroupNone},
		{"BrowOuterUpLeft", GroupLeftEye},
		{"BrowOuterUpRight", GroupRightEye},
		{"CheekPuff", GroupCheek},
		{"CheekSquintLeft", GroupLeftEye},
		{"CheekSquintRight", GroupRightEye},
		{"NoseSneerLeft", GroupNose},
		{"NoseSneerRight", GroupNose},
		{"TongueOut", GroupTongue},
	}
}

// Registry is the fixed set of bones and blend shapes, each resolved to a
// stable index. It is immutable once built and safe for concurrent use.
type Registry struct {
	bones      []string
	boneIndex  map[string]int
	shapes     []BlendShapeDef
	shapeIndex map[string]int
}

// NewRegistry validates names and assigns indices in the given order.
func NewRegistry(bones []string, shapes []BlendShapeDef) (*Registry, error) {
	r := &Registry{
		bones:      append([]string(nil), bones...),
		boneIndex:  make(map[string]int, len(bones)),
		shapes:     append([]BlendShapeDef(nil), shapes...),
		shapeIndex: make(map[string]int, len(shapes)),
	}

	var errs []error
	for i, name := range r.bones {
		if name == "" {
			errs = append(errs, fmt.Errorf("bone %d has an empty name", i))
			continue
		}
		if _, dup := r.boneIndex[name]; dup {
			errs = append(errs, fmt.Errorf("duplicate bone %q", name))
			continue
		}
		r.boneIndex[name] = i
	}
	for i, def := range r.shapes {
		if def.Name == "" {
			errs = append(errs, fmt.Errorf("blend shape %d has an empty name", i))
			continue
		}
		if _, dup := r.shapeIndex[def.Name]; dup {
			errs = append(errs, fmt.Errorf("duplicate blend shape %q", def.Name))
			continue
		}
		r.shapeIndex[def.Name] = i
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid registry: %w", errors.Join(errs...))
	}
	return r, nil
}

// DefaultRegistry returns a registry of DefaultBones and DefaultBlendShapes.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(DefaultBones(), DefaultBlendShapes())
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) BoneIndex(name string) (int, bool) {
	i, ok := r.boneIndex[name]
	return i, ok
}

func (r *Registry) BlendShapeIndex(name string) (int, bool) {
	i, ok := r.shapeIndex[name]
	return i, ok
}

// Bones returns the bone names in index order.
func (r *Registry) Bones() []string {
	return append([]string(nil), r.bones...)
}

// BlendShapes returns the blend shape definitions in index order.
func (r *Registry) BlendShapes() []BlendShapeDef {
	return append([]BlendShapeDef(nil), r.shapes...)
}

// BlendShapeGroup returns the group of the blend shape at idx.
func (r *Registry) BlendShapeGroup(idx int) string {
	return r.shapes[idx].Group
}

// Has reports whether t names a registered channel.
func (r *Registry) Has(t Target) bool {
	switch t.Kind {
	case KindRoot:
		return true
	case KindBone:
		_, ok := r.boneIndex[t.Name]
		return ok
	case KindBlendShape:
		_, ok := r.shapeIndex[t.Name]
		return ok
	}
	return false
}
