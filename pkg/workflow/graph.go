package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// Node is one entry in a workflow graph. The graph is opaque to this
// system: nodes carry a class type tag and a free-form input map. Input
// values are either literals or references to another node's output,
// encoded as a [node_id, slot] array.
type Node struct {
	ClassType string                 `json:"class_type"`
	Inputs    map[string]interface{} `json:"inputs"`
}

// Graph maps node id to node. This mirrors the wire format the render
// engine accepts on its submission endpoint.
type Graph map[string]Node

var ErrEmptyGraph = errors.New("empty workflow graph")

// Parse decodes a workflow graph from JSON
func Parse(data []byte) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Validate checks the minimal shape requirements for submission
func (g Graph) Validate() error {
	if len(g) == 0 {
		return ErrEmptyGraph
	}
	for id, node := range g {
		if node.Inputs == nil {
			return fmt.Errorf("node %s has no inputs", id)
		}
	}
	return nil
}

// RefTarget resolves an input value that references another node's output.
// References are encoded as [node_id, slot]; the node id may arrive as a
// string or a number depending on the producer.
func (g Graph) RefTarget(value interface{}) (Node, bool) {
	ref, ok := value.([]interface{})
	if !ok || len(ref) < 1 {
		return Node{}, false
	}
	var id string
	switch v := ref[0].(type) {
	case string:
		id = v
	case float64:
		id = fmt.Sprintf("%.0f", v)
	default:
		return Node{}, false
	}
	node, ok := g[id]
	return node, ok
}

// ApplyPrompt replaces the positive prompt text in every text-encoding
// node. Returns false when no node accepted the prompt; the caller decides
// whether submitting the unmodified graph is acceptable.
func (g Graph) ApplyPrompt(prompt string) bool {
	applied := false
	for _, node := range g {
		switch node.ClassType {
		case "CLIPTextEncode", "BizyAir_CLIPTextEncode":
			if _, ok := node.Inputs["text"]; ok {
				node.Inputs["text"] = prompt
				applied = true
			}
		case "WanVideoTextEncode":
			if _, ok := node.Inputs["positive_prompt"]; ok {
				node.Inputs["positive_prompt"] = prompt
				applied = true
			}
		}
	}
	return applied
}

// ApplySeed sets the seed input on every node that has one. Returns false
// when the graph carries no seed input at all.
func (g Graph) ApplySeed(seed int64) bool {
	applied := false
	for _, node := range g {
		if _, ok := node.Inputs["seed"]; ok {
			node.Inputs["seed"] = seed
			applied = true
		}
	}
	return applied
}

// RandomSeed generates a seed in the range the engine's sampler nodes accept
func RandomSeed() int64 {
	return rand.Int63n(1<<32-1) + 1
}

// Library loads named workflow templates from a directory of JSON files
type Library struct {
	dir string
}

// NewLibrary creates a template library rooted at dir
func NewLibrary(dir string) *Library {
	return &Library{dir: dir}
}

// Load reads and validates the template named by the model, e.g. "wan-t2v"
// resolves to <dir>/wan-t2v.json
func (l *Library) Load(name string) (Graph, error) {
	path := filepath.Join(l.dir, name+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow template %s not found: %w", name, err)
	}
	return Parse(data)
}

// List returns the template names available in the library
func (l *Library) List() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		names = append(names, e.Name()[:len(e.Name())-len(".json")])
	}
	return names, nil
}
