package brand

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testResolver() *Resolver {
	return NewResolver(
		map[string]string{
			"ZiiGaat":         "Ziigaat",
			"Jade Audio":      "JadeAudio",
			"Moondrop Audio":  "Moondrop",
			"Audio Technica":  "Audio-Technica",
			"Tin Audio":       "Tin HiFi",
			"Dan Clark":       "Dan Clark Audio",
			"   ":             "ignored",
		},
		map[string]string{
			"Jade Audio": "FiiO",
			"Snowsky":    "FiiO",
			"Kinera":     "Kinera",
			"Celest":     "Kinera",
		},
	)
}

func TestCompare(t *testing.T) {
	r := testResolver()
	tests := []struct {
		a, b string
		want Relation
	}{
		{"", "Sony", Unknown},
		{"Sony", "", Unknown},
		{"  ", "  ", Unknown},
		{"Sony", "sony", Same},
		{"Ziigaat", "ZiiGaat", Same},
		{"Moondrop", "Moondrop Audio", Same},
		{"Moondrop Audio", "moondrop", Same},
		{"Dan Clark", "Dan Clark Audio", Same},
		{"Sony", "Sonya", Different},
		{"JadeAudio", "FiiO", Related},
		{"Jade Audio", "Snowsky", Related},
		{"Celest", "Kinera", Related},
		{"FiiO", "Sennheiser", Different},
		{"Celest", "FiiO", Different},
		{"Letshuoer", "Zenith Games", Different},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, r.Compare(tt.a, tt.b), "Compare(%q, %q)", tt.a, tt.b)
	}
}

func TestCompare_Symmetric(t *testing.T) {
	r := testResolver()
	brands := []string{"", "Sony", "Moondrop", "Moondrop Audio", "JadeAudio", "FiiO", "Snowsky", "Celest", "Kinera", "ZiiGaat"}
	for _, a := range brands {
		for _, b := range brands {
			assert.Equal(t, r.Compare(a, b), r.Compare(b, a), "Compare(%q, %q) not symmetric", a, b)
		}
	}
}

func TestCanonicalAndParent(t *testing.T) {
	r := testResolver()
	assert.Equal(t, "ziigaat", r.Canonical("ZiiGaat"))
	assert.Equal(t, "audio-technica", r.Canonical("audio technica"))
	assert.Equal(t, "", r.Canonical("   "))
	assert.Equal(t, "fiio", r.Parent("Jade Audio"))
	assert.Equal(t, "sennheiser", r.Parent("Sennheiser"))

	aliases, parents := r.Len()
	assert.Equal(t, 6, aliases)
	assert.Equal(t, 4, parents)
}

func TestNilTables(t *testing.T) {
	r := NewResolver(nil, nil)
	assert.Equal(t, Same, r.Compare("Focal", "focal"))
	assert.Equal(t, Different, r.Compare("Focal", "Naim"))
}
