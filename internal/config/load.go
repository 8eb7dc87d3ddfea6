package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/ini.v1"
	"gopkg.in/yaml.v3"
)

// File is a parsed configuration file.
type File struct {
	Path   string
	Global Overrides
	// Images in the order their sections appear in the file.
	Images []ImageSpec
}

type section struct {
	name   string
	values map[string]string
}

var globalKeys = map[string]bool{
	"tmp_dir": true, "out_dir": true, "rserver": true,
	"persist": false, "persist_fail": false, "image_size": false,
	"port": false, "auth_level": false, "format": false,
}

var imageKeys = map[string]bool{
	"cert": true, "volume": true, "sparse": false,
}

// Load reads a configuration file. The format follows the extension: .toml, .yaml or
// .yml, and INI for anything else.
func Load(path string) (*File, error) {
	var (
		sections []section
		err      error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		sections, err = readTOML(path)
	case ".yaml", ".yml":
		sections, err = readYAML(path)
	default:
		sections, err = readINI(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return parse(path, sections)
}

func parse(path string, sections []section) (*File, error) {
	if len(sections) < 2 {
		return nil, &ValidationError{Path: path, Problems: []string{"must have at least a 'Global' section and one image section"}}
	}

	file := &File{Path: path}
	var problems []string
	foundGlobal := false
	seen := map[string]bool{}

	for _, sec := range sections {
		if seen[sec.name] {
			problems = append(problems, fmt.Sprintf("section [%s] appears more than once", sec.name))
			continue
		}
		seen[sec.name] = true

		if sec.name == GlobalSection {
			foundGlobal = true
			problems = append(problems, checkKeys(sec, globalKeys)...)
			global, err := parseGlobal(sec.values)
			if err != nil {
				problems = append(problems, err.Error())
			}
			file.Global = global
			continue
		}

		problems = append(problems, checkKeys(sec, imageKeys)...)
		file.Images = append(file.Images, ImageSpec{
			Name:            sec.name,
			VolumeLabel:     sec.values["volume"],
			CertificatePath: sec.values["cert"],
			StartingImage:   sec.values["sparse"],
		})
	}
	if !foundGlobal {
		problems = append(problems, "must have a 'Global' section")
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Path: path, Problems: problems}
	}
	return file, nil
}

func checkKeys(sec section, known map[string]bool) []string {
	var problems []string
	for key, required := range known {
		if required && strings.TrimSpace(sec.values[key]) == "" {
			problems = append(problems, fmt.Sprintf("[%s] is missing %q", sec.name, key))
		}
	}
	for key := range sec.values {
		if _, ok := known[key]; !ok {
			problems = append(problems, fmt.Sprintf("[%s] has unknown key %q", sec.name, key))
		}
	}
	sort.Strings(problems)
	return problems
}

func parseGlobal(values map[string]string) (Overrides, error) {
	o := Overrides{
		TempDir:       values["tmp_dir"],
		OutputDir:     values["out_dir"],
		SyncServer:    values["rserver"],
		ImageSize:     values["image_size"],
		ConvertFormat: values["format"],
	}

	var err error
	if o.PersistImages, err = parseBool(values, "persist"); err != nil {
		return o, err
	}
	if o.PersistFailedImages, err = parseBool(values, "persist_fail"); err != nil {
		return o, err
	}
	if o.RadmindPort, err = parseInt(values, "port"); err != nil {
		return o, err
	}
	if o.RadmindAuthLevel, err = parseInt(values, "auth_level"); err != nil {
		return o, err
	}
	return o, nil
}

func parseBool(values map[string]string, key string) (*bool, error) {
	raw, ok := values[key]
	if !ok || raw == "" {
		return nil, nil
	}
	var v bool
	switch strings.ToLower(raw) {
	case "1", "yes", "true", "on":
		v = true
	case "0", "no", "false", "off":
		v = false
	default:
		return nil, fmt.Errorf("[%s] %s: not a boolean: %q", GlobalSection, key, raw)
	}
	return &v, nil
}

func parseInt(values map[string]string, key string) (int, error) {
	raw, ok := values[key]
	if !ok || raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("[%s] %s: not a number: %q", GlobalSection, key, raw)
	}
	return v, nil
}

func readINI(path string) ([]section, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{InsensitiveKeys: true}, path)
	if err != nil {
		return nil, err
	}

	var sections []section
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection && len(sec.Keys()) == 0 {
			continue
		}
		sections = append(sections, section{name: sec.Name(), values: sec.KeysHash()})
	}
	return sections, nil
}

func readTOML(path string) ([]section, error) {
	var raw map[string]map[string]any
	md, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return nil, err
	}

	var sections []section
	for _, key := range md.Keys() {
		if len(key) != 1 {
			continue
		}
		name := key[0]
		values := make(map[string]string, len(raw[name]))
		for k, v := range raw[name] {
			values[strings.ToLower(k)] = fmt.Sprint(v)
		}
		sections = append(sections, section{name: name, values: values})
	}
	return sections, nil
}

func readYAML(path string) ([]section, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: top level must be a mapping of sections", root.Line)
	}

	var sections []section
	for i := 0; i+1 < len(root.Content); i += 2 {
		name, body := root.Content[i], root.Content[i+1]
		if body.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("line %d: section %q must be a mapping", body.Line, name.Value)
		}
		values := make(map[string]string, len(body.Content)/2)
		for j := 0; j+1 < len(body.Content); j += 2 {
			key, value := body.Content[j], body.Content[j+1]
			if value.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: %s.%s must be a scalar", value.Line, name.Value, key.Value)
			}
			values[strings.ToLower(key.Value)] = value.Value
		}
		sections = append(sections, section{name: name.Value, values: values})
	}
	return sections, nil
}
