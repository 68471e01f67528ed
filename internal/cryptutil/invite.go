package cryptutil

import (
	"os"
	"path/filepath"

	"github.com/openportal/mesh/internal/grammar"
	"github.com/pelletier/go-toml/v2"
)

// Invite is the serialisable record handed out of band to bootstrap peer
// trust: {name, url, zone, inner_key, outer_key}. The inner key encrypts
// payloads; the outer key authenticates frames.
type Invite struct {
	Name     string `toml:"name"`
	URL      string `toml:"url"`
	Zone     string `toml:"zone"`
	InnerKey Key    `toml:"inner_key"`
	OuterKey Key    `toml:"outer_key"`
}

func (i Invite) String() string {
	return "Invite{name: " + i.Name + ", url: " + i.URL + "}"
}

// NewInvite generates a fresh pair of symmetric keys for name/url/zone.
func NewInvite(name, url, zone string) (Invite, error) {
	if !grammar.ValidName(name) || !grammar.ValidName(zone) {
		return Invite{}, grammar.New(grammar.KindParse, "invite name/zone must match [A-Za-z0-9_-]+")
	}
	inner, err := GenerateKey()
	if err != nil {
		return Invite{}, err
	}
	outer, err := GenerateKey()
	if err != nil {
		return Invite{}, err
	}
	return Invite{Name: name, URL: url, Zone: zone, InnerKey: inner, OuterKey: outer}, nil
}

// LoadTOML reads and parses any TOML-serialisable config type from disk,
// mirroring the original's invite::load generic helper.
func LoadTOML[T any](path string) (T, error) {
	var v T
	data, err := os.ReadFile(path)
	if err != nil {
		return v, grammar.Wrap(grammar.KindMisconfigured, err, "could not read config file %s", path)
	}
	if err := toml.Unmarshal(data, &v); err != nil {
		return v, grammar.Wrap(grammar.KindParse, err, "could not parse config file %s", path)
	}
	return v, nil
}

// SaveTOML serialises v to TOML and writes it to path, creating the parent
// directory if needed, mirroring the original's invite::save.
func SaveTOML[T any](v T, path string) error {
	data, err := toml.Marshal(v)
	if err != nil {
		return grammar.Wrap(grammar.KindUnknown, err, "could not serialise config to toml")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return grammar.Wrap(grammar.KindMisconfigured, err, "could not create config directory %s", dir)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return grammar.Wrap(grammar.KindMisconfigured, err, "could not write config file %s", path)
	}
	return nil
}
