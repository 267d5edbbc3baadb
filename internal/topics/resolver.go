package topics

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/meshcoretomqtt/mctomqtt/internal/infrastructure/config"
)

// ErrUnresolvedPlaceholder indicates a topic template still contains a
// placeholder after substitution. Surfaced at startup, never at publish.
var ErrUnresolvedPlaceholder = errors.New("topics: unresolved placeholder")

// Kind names one of the logical topics the bridge publishes or subscribes on.
type Kind string

const (
	KindStatus    Kind = "status"
	KindPackets   Kind = "packets"
	KindDebug     Kind = "debug"
	KindRaw       Kind = "raw"
	KindCommands  Kind = "commands"
	KindResponses Kind = "responses"
)

// Kinds lists every logical topic, in validation order.
var Kinds = []Kind{KindStatus, KindPackets, KindDebug, KindRaw, KindCommands, KindResponses}

var placeholderPattern = regexp.MustCompile(`\{[^}]*\}`)

// Resolver renders topic templates against the device identity. Built
// once at startup after identity discovery; immutable afterwards.
type Resolver struct {
	global    config.TopicsConfig
	iata      string
	publicKey string
}

// NewResolver returns a resolver for the given global templates and
// device identity.
func NewResolver(global config.TopicsConfig, iata, publicKey string) *Resolver {
	return &Resolver{global: global, iata: iata, publicKey: publicKey}
}

// Resolve renders the template for kind, preferring the destination's
// override over the global template. A destination may also override the
// IATA code alone, renaming the site segment without replacing whole
// templates.
func (r *Resolver) Resolve(kind Kind, overrides config.TopicsConfig) string {
	iata := r.iata
	if overrides.IATA != "" {
		iata = overrides.IATA
	}

	template := templateFor(overrides, kind)
	if template == "" {
		template = templateFor(r.global, kind)
	}
	return r.render(template, iata)
}

// Validate resolves every topic for every destination and fails on any
// template that leaves a placeholder unresolved. Called once at startup
// so a bad template is a configuration error, not a publish-time surprise.
func (r *Resolver) Validate(destinations []config.DestinationConfig) error {
	for _, kind := range Kinds {
		if err := r.check(kind, r.Resolve(kind, config.TopicsConfig{}), "global"); err != nil {
			return err
		}
	}
	for _, dest := range destinations {
		for _, kind := range Kinds {
			if err := r.check(kind, r.Resolve(kind, dest.Topics), dest.Name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *Resolver) check(kind Kind, topic, scope string) error {
	if m := placeholderPattern.FindString(topic); m != "" {
		return fmt.Errorf("%w: %s in %s topic %q (%s)", ErrUnresolvedPlaceholder, m, kind, topic, scope)
	}
	return nil
}

func (r *Resolver) render(template, iata string) string {
	s := strings.ReplaceAll(template, "{IATA}", iata)
	s = strings.ReplaceAll(s, "{PUBLIC_KEY}", r.publicKey)
	return s
}

func templateFor(cfg config.TopicsConfig, kind Kind) string {
	switch kind {
	case KindStatus:
		return cfg.Status
	case KindPackets:
		return cfg.Packets
	case KindDebug:
		return cfg.Debug
	case KindRaw:
		return cfg.Raw
	case KindCommands:
		return cfg.Commands
	case KindResponses:
		return cfg.Responses
	default:
		return ""
	}
}

var clientIDPattern = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeClientID derives a broker-safe client identifier from the
// repeater name. Spaces become underscores, anything outside the MQTT 3.1
// safe set is stripped, and the result is cut to the 23-character limit
// older brokers enforce.
func SanitizeClientID(prefix, name string) string {
	if prefix == "" {
		prefix = "meshcore_"
	}
	id := prefix + strings.ReplaceAll(name, " ", "_")
	id = clientIDPattern.ReplaceAllString(id, "")
	if len(id) > 23 {
		id = id[:23]
	}
	return id
}
