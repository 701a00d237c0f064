package model

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DecodeToolConfigYAML parses a YAML document into a ToolConfig and
// separately reports any field paths the typed schema does not recognize.
// Unknown fields are warnings, never errors (spec.md §4.1 point 5): the
// document is decoded once into the typed struct and once into a generic
// map, and the generic tree is walked to find paths the typed schema's
// reflected tag set doesn't reach.
func DecodeToolConfigYAML(data []byte) (ToolConfig, []string, error) {
	var generic map[string]any
	if err := yaml.Unmarshal(data, &generic); err != nil {
		return ToolConfig{}, nil, fmt.Errorf("model: parsing yaml: %w", err)
	}

	cfg, err := toolConfigFromGenericYAML(generic)
	if err != nil {
		return ToolConfig{}, nil, err
	}

	// The generic map loses key order; read the components mapping's key
	// order from the node tree so ComponentOrder follows the document.
	var doc yaml.Node
	if yaml.Unmarshal(data, &doc) == nil && len(doc.Content) == 1 && doc.Content[0].Kind == yaml.MappingNode {
		root := doc.Content[0].Content
		for i := 0; i+1 < len(root); i += 2 {
			if root[i].Value == "components" && root[i+1].Kind == yaml.MappingNode {
				order := make([]string, 0, len(cfg.ComponentOrder))
				for j := 0; j+1 < len(root[i+1].Content); j += 2 {
					order = append(order, root[i+1].Content[j].Value)
				}
				cfg.ComponentOrder = order
			}
		}
	}

	recognized := recognizedToolConfigPaths(cfg)
	var unknown []string
	walkUnknownPaths(generic, "", recognized, &unknown)
	sort.Strings(unknown)

	return cfg, unknown, nil
}

// toolConfigFromGenericYAML walks the generic tree's components and decodes
// each one through componentInfoFromGenericYAML.
func toolConfigFromGenericYAML(generic map[string]any) (ToolConfig, error) {
	normalized := normalizeYAMLTree(generic)
	components, _ := normalized["components"].(map[string]any)

	cfg := ToolConfig{
		ConfigVersion: stringField(normalized, "config_version"),
		SourceURL:     stringField(normalized, "source_url"),
		Components:    make(map[string]ComponentInfo, len(components)),
	}

	names := make([]string, 0, len(components))
	for name := range components {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, _ := components[name].(map[string]any)
		info, err := componentInfoFromGenericYAML(raw)
		if err != nil {
			return ToolConfig{}, fmt.Errorf("components.%s: %w", name, err)
		}
		cfg.Components[name] = info
		cfg.ComponentOrder = append(cfg.ComponentOrder, name)
	}

	return cfg, nil
}

// componentInfoFromGenericYAML re-marshals the generic component subtree to
// JSON and decodes it through UnmarshalComponentInfo, the same discriminated
// path the wire JSON envelope uses. Hand-copying fields here previously
// dropped every run-spec field beyond command/replicas/schedule on every
// config write (spec.md §8 round-trip invariant).
func componentInfoFromGenericYAML(raw map[string]any) (ComponentInfo, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshaling component to json: %w", err)
	}
	info, err := UnmarshalComponentInfo(data)
	if err != nil {
		return nil, err
	}
	return info, nil
}

// recognizedToolConfigPaths returns the dotted-path set the typed schema
// understands, reflected off the concrete decoded value so each component's
// recognized fields match its actual variant (continuous vs scheduled).
func recognizedToolConfigPaths(cfg ToolConfig) map[string]bool {
	paths := map[string]bool{
		"config_version": true,
		"components":     true,
		"source_url":     true,
	}
	for name, info := range cfg.Components {
		prefix := "components." + name
		paths[prefix] = true
		paths[prefix+".component_type"] = true
		paths[prefix+".build"] = true
		collectYAMLPaths(reflect.TypeOf(info.GetBuild()), prefix+".build", paths)
		paths[prefix+".build.build_type"] = true
		paths[prefix+".run"] = true
		switch v := info.(type) {
		case ContinuousComponentInfo:
			collectYAMLPaths(reflect.TypeOf(v.Run), prefix+".run", paths)
		case ScheduledComponentInfo:
			collectYAMLPaths(reflect.TypeOf(v.Run), prefix+".run", paths)
		}
	}
	return paths
}

// collectYAMLPaths walks a struct type's yaml tags, recording every
// reachable dotted path under prefix.
func collectYAMLPaths(t reflect.Type, prefix string, into map[string]bool) {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return
	}
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("yaml")
		name := strings.Split(tag, ",")[0]
		if name == "" || name == "-" {
			name = strings.ToLower(f.Name)
		}
		path := prefix + "." + name
		into[path] = true
		ft := f.Type
		if ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			collectYAMLPaths(ft, path, into)
		}
	}
}

// walkUnknownPaths recursively compares the generic decode tree against the
// recognized path set, appending any dotted path absent from it.
func walkUnknownPaths(node any, prefix string, recognized map[string]bool, out *[]string) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	for key, val := range m {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		if !recognized[path] {
			*out = append(*out, path)
			continue
		}
		walkUnknownPaths(val, path, recognized, out)
	}
}

func normalizeYAMLTree(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = normalizeYAMLValue(v)
	}
	return out
}

func normalizeYAMLValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return normalizeYAMLTree(t)
	case map[any]any:
		m := make(map[string]any, len(t))
		for k, vv := range t {
			m[fmt.Sprintf("%v", k)] = normalizeYAMLValue(vv)
		}
		return m
	default:
		return v
	}
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
