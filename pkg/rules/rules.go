// Package rules loads the brand and category tables from YAML manifests.
// Defaults are embedded in the binary; a rules directory on disk overrides
// them file by file.
package rules

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// File names inside a rules directory.
const (
	BrandsFile     = "brands.yaml"
	CategoriesFile = "categories.yaml"
)

// CategoryNames lists every category a rule may name.
var CategoryNames = []string{
	"iem", "headphones", "cable", "dac", "amp", "dap",
	"speaker", "microphone", "accessory", "excluded",
}

//go:embed defaults/*.yaml
var defaults embed.FS

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	known := make(map[string]bool, len(CategoryNames))
	for _, c := range CategoryNames {
		known[c] = true
	}
	if err := v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		return known[fl.Field().String()]
	}); err != nil {
		panic(err)
	}
	if err := v.RegisterValidation("pattern", func(fl validator.FieldLevel) bool {
		p := fl.Field().String()
		if strings.TrimSpace(p) == "" {
			return false
		}
		_, err := regexp.Compile(p)
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// Set is one consistent generation of rule tables.
type Set struct {
	Version    string
	Source     string
	Brands     *BrandManifest
	Categories *CategoryManifest
}

// Default returns the embedded rule set.
func Default() (*Set, error) {
	return LoadDir("")
}

// LoadDir loads brands.yaml and categories.yaml from dir. A file missing
// from dir, or an empty dir, falls back to the embedded default.
func LoadDir(dir string) (*Set, error) {
	brandData, brandSrc, err := readRulesFile(dir, BrandsFile)
	if err != nil {
		return nil, err
	}
	brands, err := ParseBrandManifest(brandData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", brandSrc, err)
	}

	catData, catSrc, err := readRulesFile(dir, CategoriesFile)
	if err != nil {
		return nil, err
	}
	cats, err := ParseCategoryManifest(catData)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", catSrc, err)
	}

	return &Set{
		Version:    versionOf(brands.Version, cats.Version),
		Source:     brandSrc + "," + catSrc,
		Brands:     brands,
		Categories: cats,
	}, nil
}

func versionOf(brands, categories string) string {
	if brands == categories {
		return brands
	}
	return brands + "+" + categories
}

func readRulesFile(dir, name string) ([]byte, string, error) {
	if dir != "" {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err == nil {
			return data, path, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("read rules %s: %w", path, err)
		}
	}
	data, err := defaults.ReadFile("defaults/" + name)
	if err != nil {
		return nil, "", fmt.Errorf("read embedded rules %s: %w", name, err)
	}
	return data, "embedded:" + name, nil
}

// LoadBrandManifest reads and validates a brands.yaml file.
func LoadBrandManifest(path string) (*BrandManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read brand manifest %s: %w", path, err)
	}
	m, err := ParseBrandManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// LoadCategoryManifest reads and validates a categories.yaml file.
func LoadCategoryManifest(path string) (*CategoryManifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category manifest %s: %w", path, err)
	}
	m, err := ParseCategoryManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseBrandManifest decodes and validates brands.yaml content.
func ParseBrandManifest(data []byte) (*BrandManifest, error) {
	var m BrandManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse brand manifest: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, validationError("brand manifest", err)
	}
	return &m, nil
}

// ParseCategoryManifest decodes and validates categories.yaml content.
func ParseCategoryManifest(data []byte) (*CategoryManifest, error) {
	var m CategoryManifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse category manifest: %w", err)
	}
	if err := validate.Struct(&m); err != nil {
		return nil, validationError("category manifest", err)
	}
	return &m, nil
}

// validationError flattens validator errors into one readable message.
func validationError(what string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s: %w", what, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid %s: %s: %w", what, strings.Join(msgs, "; "), err)
}

// Counts summarizes a Set for logs and the rules check command.
type Counts struct {
	Aliases    int `json:"aliases"`
	Parents    int `json:"parents"`
	Overrides  int `json:"overrides"`
	BrandOnly  int `json:"brand_only"`
	BrandModel int `json:"brand_model"`
	Keywords   int `json:"keywords"`
	Patterns   int `json:"patterns"`
}

// Counts reports how many rules of each kind the Set holds.
func (s *Set) Counts() Counts {
	c := Counts{
		Aliases:    len(s.Brands.Aliases),
		Parents:    len(s.Brands.Parents),
		Overrides:  len(s.Categories.Overrides),
		BrandOnly:  len(s.Categories.BrandOnly),
		BrandModel: len(s.Categories.BrandModel),
	}
	m := s.Categories
	c.Patterns += len(m.Overrides)
	for _, b := range m.BrandOnly {
		c.Patterns += len(b.Exceptions)
	}
	for _, b := range m.BrandModel {
		c.Patterns += len(b.First.Patterns) + len(b.Then.Patterns)
	}
	for _, list := range [][]Keyword{m.Keywords.Specific, m.Keywords.General, m.Keywords.Guarded} {
		c.Keywords += len(list)
		for _, k := range list {
			c.Patterns += len(k.Patterns) + len(k.Blockers)
		}
	}
	for _, list := range [][]string{
		m.Cable.Generic, m.Cable.IEMModels, m.Cable.HeadphoneModels,
		m.Cable.IEMConnectors, m.Cable.HeadphoneConnectors,
		m.Speaker.Guards, m.Speaker.Accessory, m.Speaker.Cable,
		m.DAP.Stationary, m.DAP.Portable,
		m.DACAmp.DAP, m.DACAmp.Guards, m.DACAmp.DAC,
		m.Microphone.Unconditional, m.Microphone.Guards, m.Microphone.Junk,
	} {
		c.Patterns += len(list)
	}
	return c
}
