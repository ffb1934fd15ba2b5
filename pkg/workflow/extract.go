package workflow

import (
	"sort"
	"strings"
)

// Metadata is the best-effort prompt/model pair recovered from a graph.
// Either field may be empty; extraction misses are not errors.
type Metadata struct {
	Prompt string
	Model  string
}

// Extract recovers human-meaningful metadata from an opaque workflow graph
// by pattern-matching known node types. Nodes are visited in ascending id
// order so repeated extraction of the same graph is stable.
func Extract(g Graph) Metadata {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return Metadata{
		Prompt: extractPrompt(g, ids),
		Model:  extractModel(g, ids),
	}
}

func extractPrompt(g Graph, ids []string) string {
	for _, id := range ids {
		node := g[id]
		switch node.ClassType {
		case "CLIPTextEncode", "BizyAir_CLIPTextEncode":
			if text := stringInput(node, "text"); text != "" {
				return text
			}
		case "WanVideoTextEncode":
			if text := stringInput(node, "positive_prompt"); text != "" {
				return text
			}
		case "KSampler":
			// The sampler's positive input references a text node
			ref, ok := node.Inputs["positive"]
			if !ok {
				continue
			}
			target, ok := g.RefTarget(ref)
			if !ok {
				continue
			}
			if text := stringInput(target, "text"); text != "" {
				return text
			}
		}
	}
	return ""
}

func extractModel(g Graph, ids []string) string {
	for _, id := range ids {
		node := g[id]
		switch node.ClassType {
		case "WanVideoModelLoader":
			if name := stringInput(node, "model"); name != "" {
				return cleanModelName(name)
			}
		case "UNETLoader":
			if name := stringInput(node, "unet_name"); name != "" {
				return cleanModelName(name)
			}
		}
	}
	return ""
}

// cleanModelName strips a path-style prefix and known weight-file suffixes
// so "wan2.1/low_noise.safetensors" becomes "wan2.1"
func cleanModelName(name string) string {
	if idx := strings.Index(name, "/"); idx > 0 {
		return name[:idx]
	}
	for _, ext := range []string{".safetensors", ".ckpt", ".pt"} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}
	return name
}

func stringInput(node Node, field string) string {
	v, ok := node.Inputs[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
