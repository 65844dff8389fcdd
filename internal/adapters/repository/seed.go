package repository

import (
	"fmt"
	"sort"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/okian/timebank/internal/domain/model"
)

// Seed is the provisioning document for the in-memory store.
type Seed struct {
	Booths   []SeedBooth   `koanf:"booths"`
	Profiles []SeedProfile `koanf:"profiles"`
}

// SeedBooth is one booth plus its category profile.
type SeedBooth struct {
	ID         string             `koanf:"id"`
	Code       string             `koanf:"code"`
	Name       string             `koanf:"name"`
	Kind       string             `koanf:"kind"`
	Amount     int64              `koanf:"amount"`
	Active     *bool              `koanf:"active"`
	Categories map[string]float64 `koanf:"categories"`
}

// SeedProfile is one identity record.
type SeedProfile struct {
	ID          string `koanf:"id"`
	DisplayName string `koanf:"display_name"`
	FullName    string `koanf:"full_name"`
	Name        string `koanf:"name"`
	Phone       string `koanf:"phone"`
}

// LoadSeedFile reads a YAML seed document from path.
func LoadSeedFile(path string) (*Seed, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load seed %s: %w", path, err)
	}
	return decodeSeed(k)
}

// ParseSeed decodes a YAML seed document.
func ParseSeed(b []byte) (*Seed, error) {
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(b), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return decodeSeed(k)
}

func decodeSeed(k *koanf.Koanf) (*Seed, error) {
	var s Seed
	if err := k.UnmarshalWithConf("", &s, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	seen := make(map[string]struct{}, len(s.Booths))
	for i, b := range s.Booths {
		if strings.TrimSpace(b.ID) == "" {
			return nil, fmt.Errorf("seed booth #%d: missing id", i)
		}
		if b.Amount < 0 {
			return nil, fmt.Errorf("seed booth %s: negative amount", b.ID)
		}
		if _, dup := seen[b.ID]; dup {
			return nil, fmt.Errorf("seed booth %s: duplicate id", b.ID)
		}
		seen[b.ID] = struct{}{}
	}
	return &s, nil
}

// Models converts the seed into domain rows.
func (s *Seed) Models() (booths []model.Booth, weights []model.CategoryWeight, profiles []model.Profile) {
	booths = make([]model.Booth, 0, len(s.Booths))
	for _, b := range s.Booths {
		booths = append(booths, model.Booth{
			ID:       b.ID,
			Code:     b.Code,
			Name:     b.Name,
			Kind:     model.ParseKind(b.Kind),
			Amount:   b.Amount,
			IsActive: b.Active == nil || *b.Active,
		})
		codes := make([]string, 0, len(b.Categories))
		for code := range b.Categories {
			codes = append(codes, code)
		}
		sort.Strings(codes)
		for _, code := range codes {
			weights = append(weights, model.CategoryWeight{BoothID: b.ID, CategoryCode: code, Weight: b.Categories[code]})
		}
	}
	profiles = make([]model.Profile, 0, len(s.Profiles))
	for _, p := range s.Profiles {
		profiles = append(profiles, model.Profile{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			FullName:    p.FullName,
			Name:        p.Name,
			Phone:       p.Phone,
		})
	}
	return booths, weights, profiles
}

// Options converts the seed into MemoryStore options.
func (s *Seed) Options() []Option {
	booths, weights, profiles := s.Models()
	return []Option{WithBooths(booths...), WithCategoryWeights(weights...), WithProfiles(profiles...)}
}
