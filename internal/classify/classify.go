// Package classify assigns a category to each complaint from keyword rules.
// The default rule set ships embedded in the binary; deployments can swap it
// for their own YAML file without rebuilding.
package classify

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

// Rule maps a category to the keywords that vote for it.
type Rule struct {
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

type ruleFile struct {
	Fallback string `yaml:"fallback"`
	Rules    []Rule `yaml:"rules"`
}

// Classifier scores complaint text against its rules. The category with the
// most keyword hits wins; ties break in rule order, and text matching no rule
// lands in the fallback category.
type Classifier struct {
	rules    []Rule
	fallback string
}

// Default returns the classifier built from the embedded rule set.
func Default() *Classifier {
	c, err := parse(defaultRules)
	if err != nil {
		// The embedded rules ship with the binary and are covered by tests.
		panic(err)
	}
	return c
}

// Load reads a rule file from disk.
func Load(path string) (*Classifier, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read rules %s", path)
	}
	c, err := parse(data)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: parse rules %s", path)
	}
	return c, nil
}

func parse(data []byte) (*Classifier, error) {
	var rf ruleFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, eris.Wrap(err, "unmarshal rules")
	}
	if rf.Fallback == "" {
		rf.Fallback = "其他"
	}
	for i, r := range rf.Rules {
		if r.Category == "" {
			return nil, eris.Errorf("rule %d has no category", i)
		}
		if len(r.Keywords) == 0 {
			return nil, eris.Errorf("rule %q has no keywords", r.Category)
		}
	}
	return &Classifier{rules: rf.Rules, fallback: rf.Fallback}, nil
}

// Categorize picks the category for one complaint from its title and content.
func (c *Classifier) Categorize(title, content string) string {
	text := title + "\n" + content

	best := -1
	bestScore := 0
	for i, rule := range c.rules {
		score := 0
		for _, kw := range rule.Keywords {
			if strings.Contains(text, kw) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best < 0 {
		return c.fallback
	}
	return c.rules[best].Category
}

// Categories lists every category the classifier can assign, fallback last.
func (c *Classifier) Categories() []string {
	out := make([]string, 0, len(c.rules)+1)
	for _, r := range c.rules {
		out = append(out, r.Category)
	}
	return append(out, c.fallback)
}

// Fallback is the category assigned when no rule matches.
func (c *Classifier) Fallback() string {
	return c.fallback
}
