package v1alpha1

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *Module) DeepCopyInto(out *Module) {
	*out = *in
	out.RequiredCapabilities = copyStrings(in.RequiredCapabilities)
	out.OptionalCapabilities = copyStrings(in.OptionalCapabilities)
	out.DependsOn = copyStrings(in.DependsOn)
	out.Conflicts = copyStrings(in.Conflicts)
	out.Exports = copyStrings(in.Exports)
	if in.VersionConstraints != nil {
		out.VersionConstraints = make(map[string]string, len(in.VersionConstraints))
		for k, v := range in.VersionConstraints {
			out.VersionConstraints[k] = v
		}
	}
	if in.Slots != nil {
		out.Slots = make([]SlotContribution, len(in.Slots))
		for i := range in.Slots {
			in.Slots[i].DeepCopyInto(&out.Slots[i])
		}
	}
}

// DeepCopy copies the receiver, creating a new Module.
func (in *Module) DeepCopy() *Module {
	if in == nil {
		return nil
	}
	out := new(Module)
	in.DeepCopyInto(out)
	return out
}

// DeepCopyInto copies the receiver, writing into out. in must be non-nil.
func (in *SlotContribution) DeepCopyInto(out *SlotContribution) {
	*out = *in
	out.RequiredCapabilities = copyStrings(in.RequiredCapabilities)
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
