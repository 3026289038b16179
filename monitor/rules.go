package monitor

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Operator compares a collected metric against a configured value.
type Operator string

const (
	OpGreaterThan    Operator = "gt"
	OpGreaterOrEqual Operator = "gte"
	OpLessThan       Operator = "lt"
	OpLessOrEqual    Operator = "lte"
	OpEqual          Operator = "eq"
)

// Condition is a single metric comparison. All conditions of a rule must
// hold for its actions to fire.
type Condition struct {
	Metric   string   `yaml:"metric" json:"metric"`
	Operator Operator `yaml:"operator" json:"operator"`
	Value    float64  `yaml:"value" json:"value"`
}

// Eval applies the condition to a metric value.
func (c Condition) Eval(value float64) bool {
	switch c.Operator {
	case OpGreaterThan:
		return value > c.Value
	case OpGreaterOrEqual:
		return value >= c.Value
	case OpLessThan:
		return value < c.Value
	case OpLessOrEqual:
		return value <= c.Value
	case OpEqual:
		return value == c.Value
	default:
		return false
	}
}

// Duration is a time.Duration that additionally parses YAML strings like
// "5m" or "1h30m".
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		parsed, perr := time.ParseDuration(s)
		if perr != nil {
			return fmt.Errorf("invalid duration %q: %w", s, perr)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Std returns the plain time.Duration value.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ActionType names what a rule does when it fires.
type ActionType string

const (
	ActionAlert    ActionType = "alert"
	ActionBlockIP  ActionType = "block_ip"
	ActionThrottle ActionType = "throttle"
	ActionLog      ActionType = "log"
)

// Action is one step of a rule's ordered response list.
type Action struct {
	Type ActionType `yaml:"type" json:"type"`

	// Severity and Message apply to alert actions.
	Severity Severity `yaml:"severity,omitempty" json:"severity,omitempty"`
	Message  string   `yaml:"message,omitempty" json:"message,omitempty"`

	// IP applies to block_ip actions. Empty means block the top threat
	// source from the current window.
	IP string `yaml:"ip,omitempty" json:"ip,omitempty"`

	// Duration applies to throttle actions; zero means one interval.
	Duration Duration `yaml:"duration,omitempty" json:"duration,omitempty"`
}

// Threshold raises a system_anomaly alert when a metric exceeds its value.
type Threshold struct {
	Name     string   `yaml:"name" json:"name"`
	Metric   string   `yaml:"metric" json:"metric"`
	Value    float64  `yaml:"value" json:"value"`
	Severity Severity `yaml:"severity" json:"severity"`
	Enabled  bool     `yaml:"enabled" json:"enabled"`
}

// Rule fires its actions when every condition holds for the current window.
type Rule struct {
	Name        string      `yaml:"name" json:"name"`
	Description string      `yaml:"description,omitempty" json:"description,omitempty"`
	Enabled     bool        `yaml:"enabled" json:"enabled"`
	Conditions  []Condition `yaml:"conditions" json:"conditions"`
	Actions     []Action    `yaml:"actions" json:"actions"`
}

// RuleSet is the monitor's complete configurable policy.
type RuleSet struct {
	Thresholds []Threshold `yaml:"thresholds" json:"thresholds"`
	Rules      []Rule      `yaml:"rules" json:"rules"`
}

var validMetrics = map[string]bool{
	MetricRequests:             true,
	MetricFailures:             true,
	MetricBlockedRequests:      true,
	MetricRateLimited:          true,
	MetricXSSAttempts:          true,
	MetricSQLInjectionAttempts: true,
	MetricAuthFailures:         true,
	MetricErrorRate:            true,
	MetricLoad:                 true,
}

// Validate checks every threshold and rule references known metrics,
// operators and action types.
func (rs *RuleSet) Validate() error {
	for _, t := range rs.Thresholds {
		if t.Name == "" {
			return fmt.Errorf("threshold has no name")
		}
		if !validMetrics[t.Metric] {
			return fmt.Errorf("threshold %s references unknown metric %q", t.Name, t.Metric)
		}
	}
	for _, r := range rs.Rules {
		if r.Name == "" {
			return fmt.Errorf("rule has no name")
		}
		if len(r.Conditions) == 0 {
			return fmt.Errorf("rule %s has no conditions", r.Name)
		}
		for _, c := range r.Conditions {
			if !validMetrics[c.Metric] {
				return fmt.Errorf("rule %s references unknown metric %q", r.Name, c.Metric)
			}
			switch c.Operator {
			case OpGreaterThan, OpGreaterOrEqual, OpLessThan, OpLessOrEqual, OpEqual:
			default:
				return fmt.Errorf("rule %s uses unknown operator %q", r.Name, c.Operator)
			}
		}
		if len(r.Actions) == 0 {
			return fmt.Errorf("rule %s has no actions", r.Name)
		}
		for _, a := range r.Actions {
			switch a.Type {
			case ActionAlert, ActionBlockIP, ActionThrottle, ActionLog:
			default:
				return fmt.Errorf("rule %s uses unknown action type %q", r.Name, a.Type)
			}
		}
	}
	return nil
}

// ParseRules decodes a YAML rule set.
func ParseRules(data []byte) (*RuleSet, error) {
	var rs RuleSet
	if err := yaml.Unmarshal(data, &rs); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	return &rs, nil
}

// LoadRules reads and parses a YAML rule set from path.
func LoadRules(path string) (*RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return ParseRules(data)
}

// DefaultRuleSet returns the built-in policy used when no configuration is
// supplied.
func DefaultRuleSet() RuleSet {
	return RuleSet{
		Thresholds: []Threshold{
			{Name: "high-auth-failures", Metric: MetricAuthFailures, Value: 10, Severity: SeverityHigh, Enabled: true},
			{Name: "high-error-rate", Metric: MetricErrorRate, Value: 0.25, Severity: SeverityMedium, Enabled: true},
			{Name: "rate-limit-pressure", Metric: MetricRateLimited, Value: 50, Severity: SeverityMedium, Enabled: true},
		},
		Rules: []Rule{
			{
				Name:        "injection-burst",
				Description: "sustained attack patterns from request payloads",
				Enabled:     true,
				Conditions: []Condition{
					{Metric: MetricSQLInjectionAttempts, Operator: OpGreaterOrEqual, Value: 5},
				},
				Actions: []Action{
					{Type: ActionAlert, Severity: SeverityHigh, Message: "repeated SQL injection attempts detected"},
					{Type: ActionBlockIP},
				},
			},
			{
				Name:        "overload",
				Description: "request load near capacity with elevated errors",
				Enabled:     true,
				Conditions: []Condition{
					{Metric: MetricLoad, Operator: OpGreaterThan, Value: 0.9},
					{Metric: MetricErrorRate, Operator: OpGreaterThan, Value: 0.1},
				},
				Actions: []Action{
					{Type: ActionThrottle},
					{Type: ActionAlert, Severity: SeverityMedium, Message: "system under load, throttling enabled"},
				},
			},
		},
	}
}
