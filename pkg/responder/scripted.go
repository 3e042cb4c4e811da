package responder

import (
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/go-go-golems/chat-relay/pkg/chat"
)

// Script is the YAML document driving a ScriptedClient.
//
//	default: "Thanks {{user}}, I'll look into it."
//	rules:
//	  - match: "(?i)closing date"
//	    response: "The closing date is on file."
//	    confidence: 0.95
//	    actions:
//	      - type: open_calendar
//	  - match: "(?i)break"
//	    fail: true
type Script struct {
	Default string       `yaml:"default"`
	Rules   []ScriptRule `yaml:"rules"`
}

type ScriptRule struct {
	Match      string         `yaml:"match"`
	Response   string         `yaml:"response"`
	Confidence *float64       `yaml:"confidence,omitempty"`
	Actions    []ScriptAction `yaml:"actions,omitempty"`
	Fail       bool           `yaml:"fail,omitempty"`
}

type ScriptAction struct {
	Type   string         `yaml:"type"`
	Label  string         `yaml:"label,omitempty"`
	Params map[string]any `yaml:"params,omitempty"`
}

type compiledRule struct {
	re   *regexp.Regexp
	rule ScriptRule
}

// ScriptedClient answers from an ordered list of regexp rules. The first
// matching rule wins; otherwise the default response is used.
type ScriptedClient struct {
	defaultResponse string
	rules           []compiledRule
}

const defaultScriptResponse = "Thanks {{user}}, I received: {{message}}"

// LoadScriptFile parses a script from a YAML file.
func LoadScriptFile(path string) (*Script, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read script %s", path)
	}
	return ParseScript(b)
}

func ParseScript(b []byte) (*Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, errors.Wrap(err, "parse script yaml")
	}
	return &s, nil
}

func NewScriptedClient(script *Script) (*ScriptedClient, error) {
	c := &ScriptedClient{defaultResponse: defaultScriptResponse}
	if script == nil {
		return c, nil
	}
	if strings.TrimSpace(script.Default) != "" {
		c.defaultResponse = script.Default
	}
	for i, r := range script.Rules {
		re, err := regexp.Compile(r.Match)
		if err != nil {
			return nil, errors.Wrapf(err, "rule %d: compile %q", i, r.Match)
		}
		if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
			return nil, errors.Errorf("rule %d: confidence %v out of range", i, *r.Confidence)
		}
		c.rules = append(c.rules, compiledRule{re: re, rule: r})
	}
	return c, nil
}

func (c *ScriptedClient) Respond(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	for _, cr := range c.rules {
		if !cr.re.MatchString(req.Text) {
			continue
		}
		if cr.rule.Fail {
			return Result{}, errors.Errorf("scripted failure for %q", cr.rule.Match)
		}
		out := Result{
			Response:   render(cr.rule.Response, req),
			Confidence: cr.rule.Confidence,
		}
		for _, a := range cr.rule.Actions {
			out.Actions = append(out.Actions, chat.Action{Type: a.Type, Label: a.Label, Params: a.Params})
		}
		return out, nil
	}
	return Result{Response: render(c.defaultResponse, req)}, nil
}

func render(tmpl string, req Request) string {
	return strings.NewReplacer("{{user}}", req.From, "{{message}}", req.Text).Replace(tmpl)
}
