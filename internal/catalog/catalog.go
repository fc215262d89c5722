// Package catalog holds the static menu graph. A catalog is read-only after
// Parse returns and is safe for concurrent use.
package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/template"

	boterrors "github.com/devrev/tierbot/internal/errors"
	"github.com/devrev/tierbot/internal/model"
	"gopkg.in/yaml.v3"
)

//go:embed default_catalog.yaml
var defaultCatalog []byte

// MaxTokenLength is the provider's callback payload limit in bytes
const MaxTokenLength = 64

// MessageKey names a catalog-wide text that is not a menu node
type MessageKey string

const (
	MessageError        MessageKey = "error_text"
	MessageVerify       MessageKey = "verify_text"
	MessageUnauthorized MessageKey = "unauthorized_text"
)

// Catalog is the menu graph plus its shared texts
type Catalog struct {
	Version string

	rootID   string
	upsellID string
	nodes    map[string]*Node
	nodeIDs  []string

	// edges maps every action token to its target node id
	edges    map[string]string
	messages map[MessageKey]*template.Template
	features map[model.Tier][]string
}

// Node is one menu view
type Node struct {
	ID           string
	RequiredTier model.Tier
	Actions      []Action

	text     *template.Template
	variants map[model.Tier]*template.Template
}

// Action is an edge from a node. MinTier/MaxTier only control whether the
// button is shown; the token stays resolvable for every tier.
type Action struct {
	Token   string
	Label   string
	Target  string
	MinTier model.Tier
	MaxTier model.Tier
}

// RenderContext is the data every template sees
type RenderContext struct {
	UserID      model.UserID
	Tier        string
	TierName    string
	DisplayName string
	Handle      string
	AdminHandle string

	// Required is the display name of the tier that gated the request.
	// Only set when rendering the upsell node.
	Required string

	Features []string
}

type catalogFile struct {
	Version          string              `yaml:"version"`
	Root             string              `yaml:"root"`
	Upsell           string              `yaml:"upsell"`
	ErrorText        string              `yaml:"error_text"`
	VerifyText       string              `yaml:"verify_text"`
	UnauthorizedText string              `yaml:"unauthorized_text"`
	Features         map[string][]string `yaml:"features"`
	Nodes            []nodeFile          `yaml:"nodes"`
}

type nodeFile struct {
	ID           string            `yaml:"id"`
	RequiredTier string            `yaml:"required_tier"`
	Text         string            `yaml:"text"`
	Variants     map[string]string `yaml:"variants"`
	Actions      []actionFile      `yaml:"actions"`
}

type actionFile struct {
	Token   string `yaml:"token"`
	Label   string `yaml:"label"`
	Target  string `yaml:"target"`
	MinTier string `yaml:"min_tier"`
	MaxTier string `yaml:"max_tier"`
}

var funcs = template.FuncMap{
	// head returns at most n items
	"head": func(n int, items []string) []string {
		if len(items) <= n {
			return items
		}
		return items[:n]
	},
	// more returns how many items head would drop
	"more": func(n int, items []string) int {
		if len(items) <= n {
			return 0
		}
		return len(items) - n
	},
	"upper": strings.ToUpper,
}

// Default returns the catalog compiled into the binary
func Default() (*Catalog, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog file, or the built-in catalog when path is empty
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog %s: %w", path, err)
	}
	return Parse(data)
}

// Parse builds and validates a catalog from YAML
func Parse(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, boterrors.ConfigInvalid(fmt.Sprintf("catalog is not valid YAML: %v", err))
	}

	c := &Catalog{
		Version:  file.Version,
		rootID:   file.Root,
		upsellID: file.Upsell,
		nodes:    make(map[string]*Node, len(file.Nodes)),
		edges:    make(map[string]string),
		messages: make(map[MessageKey]*template.Template),
		features: make(map[model.Tier][]string),
	}

	for name, list := range file.Features {
		tier, err := model.ParseTier(name)
		if err != nil {
			return nil, boterrors.ConfigInvalid(fmt.Sprintf("features: %v", err))
		}
		c.features[tier] = list
	}

	texts := map[MessageKey]string{
		MessageError:        file.ErrorText,
		MessageVerify:       file.VerifyText,
		MessageUnauthorized: file.UnauthorizedText,
	}
	for key, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, boterrors.ConfigInvalid(fmt.Sprintf("catalog %s is required", key))
		}
		tmpl, err := parseTemplate(string(key), text)
		if err != nil {
			return nil, err
		}
		c.messages[key] = tmpl
	}

	for _, nf := range file.Nodes {
		node, err := buildNode(nf)
		if err != nil {
			return nil, err
		}
		if _, dup := c.nodes[node.ID]; dup {
			return nil, boterrors.ConfigInvalid(fmt.Sprintf("duplicate node %q", node.ID))
		}
		c.nodes[node.ID] = node
		c.nodeIDs = append(c.nodeIDs, node.ID)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}

	return c, nil
}

func buildNode(nf nodeFile) (*Node, error) {
	if nf.ID == "" {
		return nil, boterrors.ConfigInvalid("node without id")
	}

	node := &Node{
		ID:       nf.ID,
		variants: make(map[model.Tier]*template.Template),
	}

	if nf.RequiredTier != "" {
		tier, err := model.ParseTier(nf.RequiredTier)
		if err != nil {
			return nil, boterrors.ConfigInvalid(fmt.Sprintf("node %q: %v", nf.ID, err))
		}
		node.RequiredTier = tier
	}

	if strings.TrimSpace(nf.Text) == "" {
		return nil, boterrors.ConfigInvalid(fmt.Sprintf("node %q has no text", nf.ID))
	}
	tmpl, err := parseTemplate(nf.ID, nf.Text)
	if err != nil {
		return nil, err
	}
	node.text = tmpl

	for name, text := range nf.Variants {
		tier, err := model.ParseTier(name)
		if err != nil {
			return nil, boterrors.ConfigInvalid(fmt.Sprintf("node %q variant: %v", nf.ID, err))
		}
		tmpl, err := parseTemplate(nf.ID+"/"+name, text)
		if err != nil {
			return nil, err
		}
		node.variants[tier] = tmpl
	}

	seen := make(map[string]bool, len(nf.Actions))
	for _, af := range nf.Actions {
		if af.Token == "" || af.Label == "" || af.Target == "" {
			return nil, boterrors.ConfigInvalid(fmt.Sprintf("node %q has an incomplete action", nf.ID))
		}
		if len(af.Token) > MaxTokenLength {
			return nil, boterrors.ConfigInvalid(fmt.Sprintf("node %q: token %q exceeds %d bytes", nf.ID, af.Token, MaxTokenLength))
		}
		if seen[af.Token] {
			return nil, boterrors.ConfigInvalid(fmt.Sprintf("node %q: duplicate token %q", nf.ID, af.Token))
		}
		seen[af.Token] = true

		action := Action{
			Token:   af.Token,
			Label:   af.Label,
			Target:  af.Target,
			MinTier: model.TierNone,
			MaxTier: model.TierAdvanced,
		}
		if af.MinTier != "" {
			if action.MinTier, err = model.ParseTier(af.MinTier); err != nil {
				return nil, boterrors.ConfigInvalid(fmt.Sprintf("node %q action %q: %v", nf.ID, af.Token, err))
			}
		}
		if af.MaxTier != "" {
			if action.MaxTier, err = model.ParseTier(af.MaxTier); err != nil {
				return nil, boterrors.ConfigInvalid(fmt.Sprintf("node %q action %q: %v", nf.ID, af.Token, err))
			}
		}
		node.Actions = append(node.Actions, action)
	}

	return node, nil
}

func parseTemplate(name, text string) (*template.Template, error) {
	tmpl, err := template.New(name).Funcs(funcs).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, boterrors.ConfigInvalid(fmt.Sprintf("template %q: %v", name, err))
	}
	return tmpl, nil
}

// validate checks graph integrity and that every text renders for every tier
func (c *Catalog) validate() error {
	if _, ok := c.nodes[c.rootID]; !ok {
		return boterrors.ConfigInvalid(fmt.Sprintf("root node %q is not defined", c.rootID))
	}
	upsell, ok := c.nodes[c.upsellID]
	if !ok {
		return boterrors.ConfigInvalid(fmt.Sprintf("upsell node %q is not defined", c.upsellID))
	}
	if upsell.RequiredTier != model.TierNone {
		return boterrors.ConfigInvalid("upsell node must not require a tier")
	}

	for _, id := range c.nodeIDs {
		node := c.nodes[id]
		for _, action := range node.Actions {
			if _, ok := c.nodes[action.Target]; !ok {
				return boterrors.ConfigInvalid(fmt.Sprintf("node %q action %q targets unknown node %q", id, action.Token, action.Target))
			}
			// Tokens are global edge ids, so one token means one target
			if prev, ok := c.edges[action.Token]; ok && prev != action.Target {
				return boterrors.ConfigInvalid(fmt.Sprintf("token %q targets both %q and %q", action.Token, prev, action.Target))
			}
			c.edges[action.Token] = action.Target
		}
	}

	for _, tier := range []model.Tier{model.TierNone, model.TierBasic, model.TierAdvanced} {
		rc := c.sampleContext(tier)
		for _, id := range c.nodeIDs {
			if _, err := c.nodes[id].Render(tier, rc); err != nil {
				return boterrors.ConfigInvalid(err.Error())
			}
		}
		for key := range c.messages {
			if _, err := c.Message(key, rc); err != nil {
				return boterrors.ConfigInvalid(err.Error())
			}
		}
	}

	return nil
}

func (c *Catalog) sampleContext(tier model.Tier) RenderContext {
	rc := c.NewContext(tier)
	rc.UserID = 1
	rc.DisplayName = "Sample"
	rc.Handle = "sample"
	rc.AdminHandle = "admin"
	rc.Required = model.TierAdvanced.DisplayName()
	return rc
}

// NewContext returns a render context with the tier fields filled in
func (c *Catalog) NewContext(tier model.Tier) RenderContext {
	return RenderContext{
		Tier:     tier.DisplayName(),
		TierName: tier.String(),
		Features: c.Features(tier),
	}
}

// Resolve returns the node with the given id
func (c *Catalog) Resolve(id string) (*Node, error) {
	node, ok := c.nodes[id]
	if !ok {
		return nil, boterrors.UnknownNode(id)
	}
	return node, nil
}

// Root returns the main menu node
func (c *Catalog) Root() *Node {
	return c.nodes[c.rootID]
}

// Upsell returns the node shown in place of gated content
func (c *Catalog) Upsell() *Node {
	return c.nodes[c.upsellID]
}

// Edge returns the target node id of an action token
func (c *Catalog) Edge(token string) (string, bool) {
	target, ok := c.edges[token]
	return target, ok
}

// Tokens returns every action token, sorted
func (c *Catalog) Tokens() []string {
	tokens := make([]string, 0, len(c.edges))
	for token := range c.edges {
		tokens = append(tokens, token)
	}
	sort.Strings(tokens)
	return tokens
}

// NodeIDs returns node ids in declaration order
func (c *Catalog) NodeIDs() []string {
	return append([]string(nil), c.nodeIDs...)
}

// Features returns the feature list advertised for tier
func (c *Catalog) Features(tier model.Tier) []string {
	return c.features[tier]
}

// Message renders one of the catalog-wide texts
func (c *Catalog) Message(key MessageKey, rc RenderContext) (string, error) {
	tmpl, ok := c.messages[key]
	if !ok {
		return "", boterrors.UnknownNode(string(key))
	}
	return execute(string(key), tmpl, rc)
}

// Render produces the node's text for tier. The variant for the highest
// tier not above the user's tier wins; the base text is the fallback.
func (n *Node) Render(tier model.Tier, rc RenderContext) (string, error) {
	tmpl := n.text
	for t := tier; ; t-- {
		if v, ok := n.variants[t]; ok {
			tmpl = v
			break
		}
		if t == model.TierNone {
			break
		}
	}
	return execute(n.ID, tmpl, rc)
}

// Options returns the actions visible to tier, in declaration order
func (n *Node) Options(tier model.Tier) []model.ActionOption {
	opts := make([]model.ActionOption, 0, len(n.Actions))
	for _, a := range n.Actions {
		if tier < a.MinTier || tier > a.MaxTier {
			continue
		}
		opts = append(opts, model.ActionOption{Token: a.Token, Label: a.Label})
	}
	return opts
}

func execute(id string, tmpl *template.Template, rc RenderContext) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, rc); err != nil {
		return "", boterrors.RenderFailed(id, err)
	}
	return strings.TrimSpace(b.String()), nil
}
