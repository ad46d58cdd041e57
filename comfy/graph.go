// Package comfy talks to a ComfyUI image worker: it builds the txt2img job
// graph and runs the submit, wait, fetch protocol.
package comfy

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/songzhibin97/genai-bot/types"
)

// PromptPlaceholder marks where the user's text goes in a positive prompt template.
const PromptPlaceholder = "{prompt}"

// MaxSeed bounds generated seeds; seeds stay exactly representable as JSON numbers.
const MaxSeed = 1 << 53

// Node ids of the fill-in points in txt2img.json.
const (
	nodeSampler    = "3"
	nodeCheckpoint = "4"
	nodePositive   = "6"
	nodeNegative   = "7"
)

//go:embed txt2img.json
var txt2imgTemplate []byte

// Node is one step of a job graph.
type Node struct {
	Inputs    map[string]interface{} `json:"inputs"`
	ClassType string                 `json:"class_type"`
}

// Graph is a job graph keyed by node id, in the shape POST /prompt expects.
type Graph map[string]Node

// Seed returns the sampler seed.
func (g Graph) Seed() int64 {
	switch v := g[nodeSampler].Inputs["seed"].(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	return 0
}

// PositiveText returns the encoded positive prompt.
func (g Graph) PositiveText() string {
	s, _ := g[nodePositive].Inputs["text"].(string)
	return s
}

// Builder expands image configs into job graphs.
type Builder struct {
	// Seed returns a seed in [0, MaxSeed). It must be safe for concurrent use.
	Seed func() int64
}

// NewBuilder returns a Builder drawing seeds from a time-seeded source.
func NewBuilder() *Builder {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	return &Builder{Seed: func() int64 {
		mu.Lock()
		defer mu.Unlock()
		return rng.Int63n(MaxSeed)
	}}
}

// ExpandPrompt substitutes prompt into template. An empty template is the bare prompt.
func ExpandPrompt(template, prompt string) string {
	if template == "" {
		template = PromptPlaceholder
	}
	return strings.ReplaceAll(template, PromptPlaceholder, prompt)
}

// Build returns a new graph for prompt under cfg.
func (b *Builder) Build(prompt string, cfg types.ImageConfig) (Graph, error) {
	var g Graph
	if err := json.Unmarshal(txt2imgTemplate, &g); err != nil {
		return nil, fmt.Errorf("decode graph template: %w", err)
	}

	sampler := g[nodeSampler].Inputs
	sampler["seed"] = b.Seed()
	sampler["steps"] = cfg.Steps
	sampler["cfg"] = cfg.CFG
	g[nodeCheckpoint].Inputs["ckpt_name"] = cfg.Model
	g[nodePositive].Inputs["text"] = ExpandPrompt(cfg.PositivePrompt, prompt)
	g[nodeNegative].Inputs["text"] = cfg.NegativePrompt
	return g, nil
}
