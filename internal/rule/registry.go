package rule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gyaneshwarpardhi/uebax/internal/config"
)

// Env carries deployment settings every factory may need.
type Env struct {
	Location *time.Location
}

// Factory builds a rule from its config entry.
type Factory func(def config.RuleDef, env Env) (Rule, error)

// Registry maps rule type strings to factories.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry knows the shipped rule types and the expression rule.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(config.RuleTypeOffHoursLogin, newOffHoursLogin)
	r.Register(config.RuleTypeBruteForceLogin, newBruteForceLogin)
	r.Register(config.RuleTypeExpression, newExpression)
	return r
}

// Register adds a factory. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(typ string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[typ]; exists {
		panic(fmt.Sprintf("rule registry: duplicate type %q", typ))
	}
	r.factories[typ] = f
}

// Types returns all registered type strings, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Build constructs the rule set for cfg. Disabled rules are skipped; order
// follows cfg.Rules. All factory errors are reported together.
func (r *Registry) Build(cfg *config.Config) (*Set, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	env := Env{Location: loc}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var (
		rules []Rule
		errs  []string
	)
	for _, def := range cfg.Rules {
		if !def.IsEnabled() {
			continue
		}
		f, ok := r.factories[def.Type]
		if !ok {
			errs = append(errs, fmt.Sprintf("rule %s: no factory for type %q", def.ID, def.Type))
			continue
		}
		rl, err := f(def, env)
		if err != nil {
			errs = append(errs, fmt.Sprintf("rule %s: %v", def.ID, err))
			continue
		}
		rules = append(rules, rl)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("build rules:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return NewSet(rules...), nil
}

func newOffHoursLogin(def config.RuleDef, env Env) (Rule, error) {
	start, err := intParam(def.Params, "start_hour", 8)
	if err != nil {
		return nil, err
	}
	end, err := intParam(def.Params, "end_hour", 18)
	if err != nil {
		return nil, err
	}
	if start < 0 || end > 23 || start > end {
		return nil, fmt.Errorf("business hours [%d, %d] must satisfy 0 <= start <= end <= 23", start, end)
	}
	return &OffHoursLogin{ID: def.ID, Start: start, End: end, Location: env.Location, Desc: def.Description}, nil
}

func newBruteForceLogin(def config.RuleDef, _ Env) (Rule, error) {
	threshold, err := intParam(def.Params, "threshold", 5)
	if err != nil {
		return nil, err
	}
	window, err := durationParam(def.Params, "window", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 || window <= 0 {
		return nil, fmt.Errorf("threshold and window must be positive")
	}
	return &BruteForceLogin{ID: def.ID, Threshold: threshold, Window: window, Desc: def.Description}, nil
}

func intParam(params map[string]interface{}, key string, def int) (int, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("param %s: %v is not an integer", key, n)
		}
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return i, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}

func durationParam(params map[string]interface{}, key string, def time.Duration) (time.Duration, error) {
	v, ok := params[key]
	if !ok {
		return def, nil
	}
	switch d := v.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("param %s: %w", key, err)
		}
		return parsed, nil
	case time.Duration:
		return d, nil
	case int:
		return time.Duration(d) * time.Second, nil
	}
	return 0, fmt.Errorf("param %s: unsupported type %T", key, v)
}
