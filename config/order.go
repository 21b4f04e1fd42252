package config

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// databaseNames returns the keys of FluentMigrator.Databases in the order
// they appear in a JSON settings document. viper flattens keys into a map and
// lower-cases them, so the declared order and spelling are read from the
// document tree instead. JSON is valid YAML, which lets yaml.v3 build the tree.
func databaseNames(data []byte) ([]string, error) {
	var document yaml.Node
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("failed to decode settings: %w", err)
	}

	if len(document.Content) == 0 {
		return nil, nil
	}

	node := document.Content[0]
	for _, key := range strings.Split(databasesKey, ".") {
		node = mappingValue(node, key)
		if node == nil {
			return nil, nil
		}
	}

	if node.Kind != yaml.MappingNode {
		return nil, nil
	}

	names := make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		names = append(names, node.Content[i].Value)
	}

	return names, nil
}

// mappingValue finds key in a mapping node, ignoring case.
func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node.Kind != yaml.MappingNode {
		return nil
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		if strings.EqualFold(node.Content[i].Value, key) {
			return node.Content[i+1]
		}
	}

	return nil
}
