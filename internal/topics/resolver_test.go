package topics

import (
	"errors"
	"strings"
	"testing"

	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/config"
)

const testKey = "AC9D2DDDD8395712AC9D2DDDD8395712AC9D2DDDD8395712AC9D2DDDD8395712"

func testTemplates() config.TopicsConfig {
	return config.TopicsConfig{
		Status:    "meshcore/{IATA}/{PUBLIC_KEY}/status",
		Packets:   "meshcore/{IATA}/{PUBLIC_KEY}/packets",
		Debug:     "meshcore/{IATA}/{PUBLIC_KEY}/debug",
		Raw:       "meshcore/{IATA}/{PUBLIC_KEY}/raw",
		Commands:  "meshcore/{IATA}/{PUBLIC_KEY}/serial/commands",
		Responses: "meshcore/{IATA}/{PUBLIC_KEY}/serial/responses",
	}
}

func TestResolve_GlobalTemplate(t *testing.T) {
	r := NewResolver(testTemplates(), "LAX", testKey)

	got := r.Resolve(KindPackets, config.TopicsConfig{})
	want := "meshcore/LAX/" + testKey + "/packets"
	if got != want {
		t.Errorf("Resolve() = %q, want %q", got, want)
	}
}

func TestResolve_DestinationOverride(t *testing.T) {
	r := NewResolver(testTemplates(), "LAX", testKey)
	overrides := config.TopicsConfig{
		Packets: "site/{IATA}/pkt/{PUBLIC_KEY}",
	}

	got := r.Resolve(KindPackets, overrides)
	want := "site/LAX/pkt/" + testKey
	if got != want {
		t.Errorf("Resolve() = %q, want override %q", got, want)
	}

	// Kinds without an override keep the global template.
	if got := r.Resolve(KindStatus, overrides); got != "meshcore/LAX/"+testKey+"/status" {
		t.Errorf("Resolve(status) = %q, want global template", got)
	}
}

func TestResolve_IATAOverride(t *testing.T) {
	r := NewResolver(testTemplates(), "LAX", testKey)
	overrides := config.TopicsConfig{IATA: "JFK"}

	got := r.Resolve(KindStatus, overrides)
	if !strings.Contains(got, "/JFK/") {
		t.Errorf("Resolve() = %q, want JFK site segment", got)
	}
}

func TestValidate_CleanTemplates(t *testing.T) {
	r := NewResolver(testTemplates(), "LAX", testKey)
	dests := []config.DestinationConfig{
		{Name: "primary"},
		{Name: "regional", Topics: config.TopicsConfig{IATA: "JFK"}},
	}

	if err := r.Validate(dests); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidate_UnresolvedPlaceholder(t *testing.T) {
	templates := testTemplates()
	templates.Raw = "meshcore/{REGION}/raw"
	r := NewResolver(templates, "LAX", testKey)

	err := r.Validate(nil)
	if !errors.Is(err, ErrUnresolvedPlaceholder) {
		t.Fatalf("Validate() error = %v, want ErrUnresolvedPlaceholder", err)
	}
	if !strings.Contains(err.Error(), "{REGION}") {
		t.Errorf("Validate() error %q should name the placeholder", err)
	}
}

func TestValidate_BadOverride(t *testing.T) {
	r := NewResolver(testTemplates(), "LAX", testKey)
	dests := []config.DestinationConfig{
		{Name: "broken", Topics: config.TopicsConfig{Commands: "cmd/{NODE_ID}"}},
	}

	err := r.Validate(dests)
	if !errors.Is(err, ErrUnresolvedPlaceholder) {
		t.Fatalf("Validate() error = %v, want ErrUnresolvedPlaceholder", err)
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("Validate() error %q should name the destination", err)
	}
}

func TestSanitizeClientID(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		node   string
		want   string
	}{
		{"spaces become underscores", "", "Hilltop Repeater", "meshcore_Hilltop_Repeat"},
		{"strips specials", "", "node!@#1", "meshcore_node1"},
		{"custom prefix", "mc_", "alpha", "mc_alpha"},
		{"truncates to 23", "", "a-very-long-repeater-name", "meshcore_a-very-long-re"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizeClientID(tt.prefix, tt.node)
			if got != tt.want {
				t.Errorf("SanitizeClientID(%q, %q) = %q, want %q", tt.prefix, tt.node, got, tt.want)
			}
			if len(got) > 23 {
				t.Errorf("SanitizeClientID() length = %d, want <= 23", len(got))
			}
		})
	}
}
