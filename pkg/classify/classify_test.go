package classify

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazyhaar/hifi-resolver/pkg/brand"
	"github.com/hazyhaar/hifi-resolver/pkg/rules"
)

func defaultClassifier(t *testing.T) *Classifier {
	t.Helper()
	set, err := rules.Default()
	require.NoError(t, err)
	r := brand.NewResolver(set.Brands.Aliases, set.Brands.Parents)
	c, err := Compile(set.Categories, WithResolver(r))
	require.NoError(t, err)
	return c
}

func TestClassify(t *testing.T) {
	c := defaultClassifier(t)
	tests := []struct {
		name, brand string
		current     Category
		want        Category
		sub         Subcategory
		tier        string
	}{
		// brand-only facts and their exceptions
		{"STAX SR-003MK2", "STAX", "", IEM, "", TierBrandOnly},
		{"STAX SR-003MK2", "", Headphones, IEM, "", TierBrandOnly},
		{"STAX SR-X9000", "STAX", IEM, Headphones, "", TierBrandOnly},
		{"Campfire Audio Cascade", "Campfire Audio", IEM, Headphones, "", TierBrandOnly},
		{"KZ ZSN Pro X", "", Headphones, IEM, "", TierBrandOnly},

		// brand+model, IEM patterns first
		{"Moondrop Aria 2", "Moondrop Audio", Headphones, IEM, "", TierBrandModel},
		{"Sennheiser Momentum True Wireless 3", "Sennheiser", Headphones, IEM, "", TierBrandModel},
		{"Sennheiser HD 600", "Sennheiser", IEM, Headphones, "", TierBrandModel},
		{"Audio-Technica ATH-M50x", "Audio Technica", IEM, Headphones, "", TierBrandModel},

		// keywords
		{"Generic True Wireless Earbuds", "", Headphones, IEM, "", TierKeywordSpecific},
		{"Studio Over-Ear Monitor", "", "", Headphones, "", TierKeywordGeneral},
		{"Hifi Open-Back Planar Reference", "", "", Headphones, "", TierKeywordGuarded},

		// overrides
		{"3.5mm to 4.4mm Headphone Adapter", "", DAC, Cable, GenericCable, TierOverride},
		{"3.5mm to 6.35mm Adapter", "", Accessory, Cable, GenericCable, TierOverride},
		{"STAX SR-L700 MK2 Replacement Ear Pads", "STAX", Headphones, Accessory, "", TierOverride},
		{"Tripowin Zonie Upgrade Cable", "Tripowin", IEM, Cable, IEMCable, TierOverride},

		// cable subcategories
		{"USB Type-C DSP Cable with 0.78mm 2-Pin", "", Cable, Cable, GenericCable, TierCableGeneric},
		{"Effect Audio Cadmus 8 Wire 4.4mm", "Effect Audio", Cable, Cable, IEMCable, TierCableBrand},
		{"Upgrade Cable for HD650 4-pin XLR", "", Cable, Cable, HeadphoneCable, TierCableModel},
		{"Tripowin Zonie MMCX 4.4mm", "Tripowin", Cable, Cable, IEMCable, TierCableConnector},

		// speakers
		{"Speaker Stands Pair 24 inch", "", Speaker, Accessory, "", TierSpeakerAccessory},
		{"Banana Plugs 24K Gold 8pcs", "", Speaker, Cable, GenericCable, TierSpeakerCable},

		// players and DAC/amp
		{"Eversolo DMP-A6 Network Streamer", "Eversolo", DAP, DAC, "", TierDAPStationary},
		{"Shanling M0 Pro Portable Music Player", "Shanling", DAC, DAP, "", TierDACAmpPlayer},
		{"Topping DX3 Pro+ DAC/Amp", "Topping", Amp, DAC, "", TierAmpDAC},

		// microphones
		{"Karaoke Condenser Microphone", "", Microphone, Excluded, "", TierMicKaraoke},
		{"Heavy Duty Boom Arm for Blue Yeti", "", Microphone, Excluded, "", TierMicJunk},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Classify(tt.name, tt.brand, tt.current)
			require.True(t, ok, "expected reclassification")
			assert.Equal(t, tt.want, got.Category)
			assert.Equal(t, tt.sub, got.Subcategory)
			assert.Equal(t, tt.tier, got.Tier)
			assert.NotEmpty(t, got.Rule)
		})
	}
}

func TestClassify_NoChange(t *testing.T) {
	c := defaultClassifier(t)
	tests := []struct {
		name, brand string
		current     Category
	}{
		{"ddHiFi USB Condenser Microphone with Boom Arm", "ddHiFi", Microphone},
		{"Sennheiser HD 600", "Sennheiser", Headphones},
		{"STAX SR-007 Mk2", "STAX", Headphones},
		{"STAX SR-009S", "STAX", Headphones},
		{"STAX SR009", "", Headphones},
		{"Moondrop Chu 2", "Moondrop", IEM},
		{"Open-Back Headphone Amplifier", "", ""},
		{"KEF LS50 Meta Bookshelf Speakers", "KEF", Speaker},
		{"Bookshelf Speakers with Stands", "", Speaker},
		{"FiiO M17 Desktop-Class Portable Player", "FiiO", DAP},
		{"Topping L30 II Headphone Amplifier", "Topping", Amp},
		{"iBasso DC04 Pro USB DAC Dongle", "iBasso", DAC},
		{"Sony Walkman NW-A306 with Dongle", "Sony", DAC},
		{"Random Thing", "", Accessory},
		{"Something Else", "", "gadget"},
		{"", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.Classify(tt.name, tt.brand, tt.current)
			assert.False(t, ok, "unexpected reclassification to %+v", got)
			assert.Equal(t, Result{}, got)
		})
	}
}

func TestClassifyCable(t *testing.T) {
	c := defaultClassifier(t)
	sub, rule, ok := c.ClassifyCable("Hart Audio Balanced Cable for Sundara", "Hart Audio")
	require.True(t, ok)
	assert.Equal(t, HeadphoneCable, sub)
	assert.Equal(t, "hart audio", rule)

	_, _, ok = c.ClassifyCable("Mystery Wire", "")
	assert.False(t, ok)
}

func TestTierOrder(t *testing.T) {
	c := defaultClassifier(t)
	assert.Equal(t, []string{
		TierOverride, TierBrandOnly, TierBrandModel,
		TierKeywordSpecific, TierKeywordGeneral, TierKeywordGuarded,
	}, c.Tiers(""))
	assert.Equal(t, c.Tiers(""), c.Tiers(IEM))
	assert.Equal(t, c.Tiers(""), c.Tiers(Headphones))
	assert.Equal(t, []string{
		TierOverride, TierCableGeneric, TierCableBrand, TierCableModel, TierCableConnector,
	}, c.Tiers(Cable))
	assert.Equal(t, []string{
		TierOverride, TierSpeakerGuard, TierSpeakerAccessory, TierSpeakerCable,
	}, c.Tiers(Speaker))
	assert.Equal(t, []string{TierOverride, TierDAPStationary}, c.Tiers(DAP))
	assert.Equal(t, []string{TierOverride, TierDACAmpPlayer, TierAmpDAC}, c.Tiers(DAC))
	assert.Equal(t, c.Tiers(DAC), c.Tiers(Amp))
	assert.Equal(t, []string{
		TierOverride, TierMicKaraoke, TierMicGuard, TierMicJunk,
	}, c.Tiers(Microphone))
	assert.Equal(t, []string{TierOverride}, c.Tiers(Accessory))
}

func TestExplain(t *testing.T) {
	c := defaultClassifier(t)

	got := c.Explain("STAX SR-L700 MK2 Replacement Ear Pads", "STAX", Headphones)
	require.Len(t, got, 2)
	assert.Equal(t, TierOverride, got[0].Tier)
	assert.Equal(t, Accessory, got[0].Category)
	assert.Equal(t, TierBrandOnly, got[1].Tier)
	assert.Equal(t, Headphones, got[1].Category)

	got = c.Explain("ddHiFi USB Condenser Microphone with Boom Arm", "ddHiFi", Microphone)
	require.Len(t, got, 2)
	assert.Equal(t, TierMicGuard, got[0].Tier)
	assert.Equal(t, TierMicJunk, got[1].Tier)
}

func TestKeywordPrecedence(t *testing.T) {
	m, err := rules.ParseCategoryManifest([]byte(`
keywords:
  specific:
    - category: iem
      patterns: ['\btrue wireless\b']
  general:
    - category: headphones
      patterns: ['\bover-ear\b']
  guarded:
    - category: headphones
      patterns: ['\bopen-back\b']
      blockers: ['\bearbuds?\b']
cable: {generic: ['usb'], iem_connectors: ['mmcx'], headphone_connectors: ['xlr']}
`))
	require.NoError(t, err)
	c, err := Compile(m)
	require.NoError(t, err)

	_, ok := c.Classify("Open-Back Earbud", "", "")
	assert.False(t, ok, "blocker suppresses guarded keyword")

	got, ok := c.Classify("Open-Back Reference", "", "")
	require.True(t, ok)
	assert.Equal(t, Headphones, got.Category)
	assert.Equal(t, TierKeywordGuarded, got.Tier)

	got, ok = c.Classify("True Wireless Over-Ear", "", "")
	require.True(t, ok)
	assert.Equal(t, IEM, got.Category)
	assert.Equal(t, TierKeywordSpecific, got.Tier)
}

func TestOverrideOrder(t *testing.T) {
	m := &rules.CategoryManifest{
		Overrides: []rules.Override{
			{Name: "first", From: []string{"dac"}, Pattern: `adapter`, To: "cable"},
			{Name: "second", From: []string{"dac"}, Pattern: `adapter`, To: "accessory"},
		},
	}
	c, err := Compile(m)
	require.NoError(t, err)
	got, ok := c.Classify("Some Adapter", "", DAC)
	require.True(t, ok)
	assert.Equal(t, "first", got.Rule)
	assert.Equal(t, Cable, got.Category)
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(nil)
	assert.Error(t, err)

	_, err = Compile(&rules.CategoryManifest{
		Overrides: []rules.Override{{From: []string{"dac"}, Pattern: `(`, To: "cable"}},
	})
	assert.Error(t, err)

	_, err = Compile(&rules.CategoryManifest{
		Keywords: rules.Keywords{Guarded: []rules.Keyword{{Category: "headphones", Patterns: []string{"ok"}, Blockers: []string{"[z-a]"}}}},
	})
	assert.Error(t, err)
}

func TestCategoriesMatchRuleNames(t *testing.T) {
	names := make([]string, len(Categories))
	for i, c := range Categories {
		names[i] = string(c)
	}
	assert.Equal(t, rules.CategoryNames, names)

	c, ok := ParseCategory(" IEM ")
	assert.True(t, ok)
	assert.Equal(t, IEM, c)
	_, ok = ParseCategory("gadget")
	assert.False(t, ok)
}

func TestClassify_Concurrent(t *testing.T) {
	c := defaultClassifier(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				got, ok := c.Classify("STAX SR-003MK2", "STAX", "")
				if !ok || got.Category != IEM {
					t.Errorf("concurrent Classify = %+v, %v", got, ok)
					return
				}
			}
		}()
	}
	wg.Wait()
}
