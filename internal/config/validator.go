package config

import (
	"fmt"
	"strings"

	"github.com/gyaneshwarpardhi/uebax/internal/alert"
	"github.com/gyaneshwarpardhi/uebax/internal/event"
)

// Validate checks the config and reports every problem found:
//   - version and a loadable timezone
//   - known store drivers
//   - unique rule ids, known rule types
//   - expression rules: expression, known alert kind, known event kinds
//
// Type-specific params are checked when the rule set is built.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Version == "" {
		errs = append(errs, "version is required")
	}
	if cfg.Timezone == "" {
		errs = append(errs, "timezone is required")
	} else if _, err := cfg.Location(); err != nil {
		errs = append(errs, err.Error())
	}

	switch cfg.Store.Driver {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q: must be memory or sqlite", cfg.Store.Driver))
	}
	switch cfg.Store.Alerts {
	case "memory", "sqlite":
		if cfg.Store.Alerts != cfg.Store.Driver {
			errs = append(errs, fmt.Sprintf("store.alerts %q: must match store.driver or be redis", cfg.Store.Alerts))
		}
	case "redis":
		if cfg.Store.Redis.Addr == "" {
			errs = append(errs, "store.redis.addr is required when store.alerts is redis")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.alerts %q: must be memory, sqlite or redis", cfg.Store.Alerts))
	}
	if cfg.Engine.BatchWorkers < 0 || cfg.Engine.MaxBatch < 0 {
		errs = append(errs, "engine.batch_workers and engine.max_batch must not be negative")
	}

	ids := make(map[string]int) // id → index
	for i, r := range cfg.Rules {
		loc := fmt.Sprintf("rules[%d]", i)
		if r.ID == "" {
			errs = append(errs, loc+": id is required")
		} else if prev, ok := ids[r.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate rule id %q (rules[%d] and rules[%d])", r.ID, prev, i))
		} else {
			ids[r.ID] = i
			loc = fmt.Sprintf("rule %s", r.ID)
		}

		switch r.Type {
		case RuleTypeOffHoursLogin, RuleTypeBruteForceLogin:
		case RuleTypeExpression:
			validateExpressionRule(r, loc, &errs)
		case "":
			errs = append(errs, loc+": type is required")
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown type %q", loc, r.Type))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateExpressionRule(r RuleDef, loc string, errs *[]string) {
	if r.Expression == "" {
		*errs = append(*errs, loc+": expression is required")
	}
	if _, err := alert.ParseKind(r.Alert); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %v", loc, err))
	}
	if len(r.EventKinds) == 0 {
		*errs = append(*errs, loc+": event_kinds must not be empty")
	}
	for _, k := range r.EventKinds {
		if _, err := event.ParseKind(k); err != nil {
			*errs = append(*errs, fmt.Sprintf("%s: %v", loc, err))
		}
	}
}
