package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/tierd-ai/tierd/pkg/models"
	"gopkg.in/yaml.v3"
)

// RouteSpec is a pool target as written in the config file. Three YAML
// shapes are accepted:
//
//	"provider:model"
//	{provider_id: p, model: m}
//	[p, m]
//
// Unparseable entries are logged and left empty so the surrounding pool
// still loads; PoolTargets skips them.
type RouteSpec models.Target

func (r *RouteSpec) UnmarshalYAML(node *yaml.Node) error {
	*r = RouteSpec{}

	switch node.Kind {
	case yaml.ScalarNode:
		var s string
		if err := node.Decode(&s); err != nil {
			return err
		}
		id, model, ok := strings.Cut(s, ":")
		id = strings.TrimSpace(id)
		model = strings.TrimSpace(model)
		if !ok || id == "" || model == "" {
			log.Printf("config: dropping malformed route %q (want provider:model)", s)
			return nil
		}
		r.ProviderID, r.Model = id, model
		return nil

	case yaml.MappingNode:
		var m struct {
			ProviderID string `yaml:"provider_id"`
			Model      string `yaml:"model"`
		}
		if err := node.Decode(&m); err != nil {
			return err
		}
		m.ProviderID = strings.TrimSpace(m.ProviderID)
		m.Model = strings.TrimSpace(m.Model)
		if m.ProviderID == "" || m.Model == "" {
			log.Printf("config: dropping route mapping at line %d: provider_id and model are required", node.Line)
			return nil
		}
		r.ProviderID, r.Model = m.ProviderID, m.Model
		return nil

	case yaml.SequenceNode:
		var seq []string
		if err := node.Decode(&seq); err != nil {
			return err
		}
		if len(seq) != 2 || strings.TrimSpace(seq[0]) == "" || strings.TrimSpace(seq[1]) == "" {
			log.Printf("config: dropping route sequence at line %d (want [provider_id, model])", node.Line)
			return nil
		}
		r.ProviderID, r.Model = strings.TrimSpace(seq[0]), strings.TrimSpace(seq[1])
		return nil
	}

	return fmt.Errorf("route: unsupported YAML node at line %d", node.Line)
}

// Target converts the entry to a models.Target. Empty if it was dropped.
func (r RouteSpec) Target() models.Target {
	return models.Target(r)
}

// IsZero reports whether the entry holds no target.
func (r RouteSpec) IsZero() bool {
	return r.ProviderID == "" && r.Model == ""
}
