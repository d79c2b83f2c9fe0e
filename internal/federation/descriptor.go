// Package federation implements the remote-entry contract used to load module
// code from a federated source: a named remote exposes named modules, each
// described by a Descriptor fetched over gRPC.
//
// The wire format is google.protobuf.Struct in both directions so no generated
// stubs are needed.
package federation

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	binderyv1alpha1 "github.com/bayleafwalker/bindery-runtime/api/v1alpha1"
)

// Descriptor describes one remotely served module build.
type Descriptor struct {
	ID      string
	Version string
	Remote  string
	// Entry names the factory that instantiates the module on the consumer
	// side.
	Entry   string
	Exports []string
	Config  map[string]any
}

// DescriptorFor builds the descriptor a remote serves for m.
func DescriptorFor(remote string, m *binderyv1alpha1.Module) Descriptor {
	return Descriptor{
		ID:      m.ID,
		Version: m.Version,
		Remote:  remote,
		Entry:   m.ID,
		Exports: append([]string(nil), m.Exports...),
	}
}

func (d Descriptor) toStruct() (*structpb.Struct, error) {
	exports := make([]any, len(d.Exports))
	for i, e := range d.Exports {
		exports[i] = e
	}
	fields := map[string]any{
		"id":      d.ID,
		"version": d.Version,
		"remote":  d.Remote,
		"entry":   d.Entry,
		"exports": exports,
	}
	if d.Config != nil {
		fields["config"] = d.Config
	}
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode descriptor %s: %w", d.ID, err)
	}
	return s, nil
}

func descriptorFromStruct(s *structpb.Struct) (Descriptor, error) {
	f := s.GetFields()
	d := Descriptor{
		ID:      f["id"].GetStringValue(),
		Version: f["version"].GetStringValue(),
		Remote:  f["remote"].GetStringValue(),
		Entry:   f["entry"].GetStringValue(),
	}
	if d.ID == "" {
		return Descriptor{}, fmt.Errorf("decode descriptor: missing id")
	}
	if d.Entry == "" {
		d.Entry = d.ID
	}
	for _, v := range f["exports"].GetListValue().GetValues() {
		d.Exports = append(d.Exports, v.GetStringValue())
	}
	if cfg := f["config"].GetStructValue(); cfg != nil {
		d.Config = cfg.AsMap()
	}
	return d, nil
}
