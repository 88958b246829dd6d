package config

import (
	"errors"
	"io/fs"
	"net/netip"
	"os"
	"strings"

	"github.com/smallbiznis/pmacctstats/internal/subnet"
	"gopkg.in/ini.v1"
)

const (
	SectionMain        = "main"
	SectionSource      = "source"
	SectionDestination = "destination"
)

var requiredStoreKeys = []string{"host", "database", "username", "password"}

// File is the validated content of the INI configuration file.
type File struct {
	Networks    []netip.Prefix
	Source      StoreConfig
	Destination StoreConfig
}

// StoreConfig locates one SQL store.
type StoreConfig struct {
	Adapter  string
	Host     string
	Port     string
	Database string
	Username string
	Password string
}

// LoadFile reads and validates the configuration file at path. Validation is
// all or nothing: any failure returns an *Error and no partial File.
func LoadFile(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return File{}, &Error{Kind: ErrConfigMissing, Path: path, Err: err}
		}
		return File{}, &Error{Kind: ErrConfigUnreadable, Path: path, Err: err}
	}
	if info.IsDir() {
		return File{}, &Error{Kind: ErrConfigUnreadable, Path: path, Err: errors.New("is a directory")}
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return File{}, &Error{Kind: ErrConfigUnreadable, Path: path, Err: err}
	}
	return parseFile(path, raw)
}

func parseFile(path string, raw []byte) (File, error) {
	doc, err := ini.LoadSources(ini.LoadOptions{IgnoreInlineComment: true}, raw)
	if err != nil {
		return File{}, &Error{Kind: ErrConfigUnreadable, Path: path, Err: err}
	}

	for _, name := range []string{SectionMain, SectionSource, SectionDestination} {
		if !doc.HasSection(name) {
			return File{}, &Error{Kind: ErrConfigSectionMissing, Path: path, Section: name}
		}
		if len(doc.Section(name).Keys()) == 0 {
			return File{}, &Error{Kind: ErrConfigSectionEmpty, Path: path, Section: name}
		}
	}

	var missing []string
	value := func(section, key string) string {
		v := strings.TrimSpace(doc.Section(section).Key(key).String())
		if v == "" {
			missing = append(missing, section+"."+key)
		}
		return v
	}

	networksRaw := value(SectionMain, "networks")
	store := func(section string) StoreConfig {
		sec := doc.Section(section)
		values := make(map[string]string, len(requiredStoreKeys))
		for _, key := range requiredStoreKeys {
			values[key] = value(section, key)
		}
		return StoreConfig{
			Adapter:  strings.ToLower(strings.TrimSpace(sec.Key("adapter").MustString("mysql"))),
			Host:     values["host"],
			Port:     strings.TrimSpace(sec.Key("port").String()),
			Database: values["database"],
			Username: values["username"],
			Password: values["password"],
		}
	}
	source := store(SectionSource)
	destination := store(SectionDestination)

	ranges := splitList(networksRaw)
	if networksRaw != "" && len(ranges) == 0 {
		missing = append(missing, SectionMain+".networks")
	}
	if len(missing) > 0 {
		return File{}, &Error{Kind: ErrConfigValueMissing, Path: path, Fields: missing}
	}

	for _, sc := range []struct {
		section string
		cfg     StoreConfig
	}{{SectionSource, source}, {SectionDestination, destination}} {
		if !validAdapter(sc.cfg.Adapter) {
			return File{}, &Error{Kind: ErrConfigInvalid, Path: path, Section: sc.section, Fields: []string{sc.section + ".adapter"},
				Err: errors.New("unsupported adapter " + sc.cfg.Adapter)}
		}
	}

	networks, err := subnet.ParseRanges(ranges)
	if err != nil {
		return File{}, &Error{Kind: ErrConfigInvalid, Path: path, Section: SectionMain, Fields: []string{SectionMain + ".networks"}, Err: err}
	}

	return File{
		Networks:    networks,
		Source:      source,
		Destination: destination,
	}, nil
}

func validAdapter(adapter string) bool {
	switch adapter {
	case "mysql", "postgres", "sqlite":
		return true
	default:
		return false
	}
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Join(strings.Fields(p), "")
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
