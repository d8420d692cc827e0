package rules

// BrandManifest is the schema of brands.yaml.
type BrandManifest struct {
	Version      string            `yaml:"version" json:"version"`
	Aliases      map[string]string `yaml:"aliases" json:"aliases" validate:"dive,keys,required,endkeys,required"`
	Parents      map[string]string `yaml:"parents" json:"parents" validate:"dive,keys,required,endkeys,required"`
	GenericWords []string          `yaml:"generic_words" json:"generic_words" validate:"dive,required"`
}

// CategoryManifest is the schema of categories.yaml.
type CategoryManifest struct {
	Version    string          `yaml:"version" json:"version"`
	Overrides  []Override      `yaml:"overrides" json:"overrides" validate:"dive"`
	BrandOnly  []BrandOnly     `yaml:"brand_only" json:"brand_only" validate:"dive"`
	BrandModel []BrandModel    `yaml:"brand_model" json:"brand_model" validate:"dive"`
	Keywords   Keywords        `yaml:"keywords" json:"keywords"`
	Cable      CableRules      `yaml:"cable" json:"cable"`
	Speaker    SpeakerRules    `yaml:"speaker" json:"speaker"`
	DAP        DAPRules        `yaml:"dap" json:"dap"`
	DACAmp     DACAmpRules     `yaml:"dac_amp" json:"dac_amp"`
	Microphone MicrophoneRules `yaml:"microphone" json:"microphone"`
}

// Override maps (current category, name pattern) to a target category.
type Override struct {
	Name        string   `yaml:"name" json:"name"`
	From        []string `yaml:"from" json:"from" validate:"required,min=1,dive,category"`
	Pattern     string   `yaml:"pattern" json:"pattern" validate:"required,pattern"`
	To          string   `yaml:"to" json:"to" validate:"required,category"`
	Subcategory string   `yaml:"subcategory,omitempty" json:"subcategory,omitempty" validate:"omitempty,oneof=iem_cable headphone_cable generic_cable"`
}

// BrandOnly declares brands that make a single category, with name
// exceptions that win over it.
type BrandOnly struct {
	Brands     []string    `yaml:"brands" json:"brands" validate:"required,min=1,dive,required"`
	Category   string      `yaml:"category" json:"category" validate:"required,category"`
	Exceptions []Exception `yaml:"exceptions" json:"exceptions,omitempty" validate:"dive"`
}

// Exception is a name pattern that overrides a brand-only category.
type Exception struct {
	Pattern  string `yaml:"pattern" json:"pattern" validate:"required,pattern"`
	Category string `yaml:"category" json:"category" validate:"required,category"`
}

// BrandModel holds two ordered pattern lists for a brand; First is always
// tried before Then.
type BrandModel struct {
	Brands []string    `yaml:"brands" json:"brands" validate:"required,min=1,dive,required"`
	First  PatternList `yaml:"first" json:"first" validate:"required"`
	Then   PatternList `yaml:"then" json:"then" validate:"required"`
}

// PatternList is a category with the patterns that indicate it.
type PatternList struct {
	Category string   `yaml:"category" json:"category" validate:"required,category"`
	Patterns []string `yaml:"patterns" json:"patterns" validate:"required,min=1,dive,pattern"`
}

// Keywords are the name-only indicators, in fixed precedence order.
type Keywords struct {
	Specific []Keyword `yaml:"specific" json:"specific" validate:"dive"`
	General  []Keyword `yaml:"general" json:"general" validate:"dive"`
	Guarded  []Keyword `yaml:"guarded" json:"guarded" validate:"dive"`
}

// Keyword implies Category when any pattern matches and no blocker does.
type Keyword struct {
	Name     string   `yaml:"name" json:"name"`
	Category string   `yaml:"category" json:"category" validate:"required,category"`
	Patterns []string `yaml:"patterns" json:"patterns" validate:"required,min=1,dive,pattern"`
	Blockers []string `yaml:"blockers" json:"blockers,omitempty" validate:"dive,pattern"`
}

// CableRules drive the cable subcategory classifier.
type CableRules struct {
	Generic             []string `yaml:"generic" json:"generic" validate:"required,min=1,dive,pattern"`
	IEMBrands           []string `yaml:"iem_brands" json:"iem_brands" validate:"dive,required"`
	HeadphoneBrands     []string `yaml:"headphone_brands" json:"headphone_brands" validate:"dive,required"`
	IEMModels           []string `yaml:"iem_models" json:"iem_models" validate:"dive,pattern"`
	HeadphoneModels     []string `yaml:"headphone_models" json:"headphone_models" validate:"dive,pattern"`
	IEMConnectors       []string `yaml:"iem_connectors" json:"iem_connectors" validate:"required,min=1,dive,pattern"`
	HeadphoneConnectors []string `yaml:"headphone_connectors" json:"headphone_connectors" validate:"required,min=1,dive,pattern"`
}

// SpeakerRules separate genuine speakers from accessories and cables.
type SpeakerRules struct {
	Guards    []string `yaml:"guards" json:"guards" validate:"dive,pattern"`
	Accessory []string `yaml:"accessory" json:"accessory" validate:"dive,pattern"`
	Cable     []string `yaml:"cable" json:"cable" validate:"dive,pattern"`
}

// DAPRules move stationary devices out of the portable player category.
type DAPRules struct {
	Stationary []string `yaml:"stationary" json:"stationary" validate:"dive,pattern"`
	Portable   []string `yaml:"portable" json:"portable" validate:"dive,pattern"`
}

// DACAmpRules move players out of DAC/amp and fold DAC-capable amps into
// DAC.
type DACAmpRules struct {
	DAP    []string `yaml:"dap" json:"dap" validate:"dive,pattern"`
	Guards []string `yaml:"guards" json:"guards" validate:"dive,pattern"`
	DAC    []string `yaml:"dac" json:"dac" validate:"dive,pattern"`
}

// MicrophoneRules exclude microphone accessories listed as microphones.
type MicrophoneRules struct {
	Unconditional []string `yaml:"unconditional" json:"unconditional" validate:"dive,pattern"`
	Guards        []string `yaml:"guards" json:"guards" validate:"dive,pattern"`
	Junk          []string `yaml:"junk" json:"junk" validate:"dive,pattern"`
}
