package extract

import (
	"fmt"
	"sort"
	"strings"
)

// Filter maps a lowercase event name to its allowed lowercase actions. An
// empty action set allows every action of that event; an empty Filter
// allows everything.
type Filter map[string]map[string]struct{}

// ParseFilter builds a Filter from entries of the form event[:action[,action]].
// Repeating an event merges its actions; listing it once without actions
// allows all of them.
func ParseFilter(entries []string) (Filter, error) {
	f := Filter{}
	for _, entry := range entries {
		event, actions, hasActions := strings.Cut(strings.TrimSpace(entry), ":")
		event = strings.ToLower(strings.TrimSpace(event))
		if event == "" {
			return nil, fmt.Errorf("invalid event filter %q: missing event name", entry)
		}

		set, seen := f[event]
		if !hasActions {
			// No actions means any action, which wins over earlier lists.
			f[event] = map[string]struct{}{}
			continue
		}
		if seen && len(set) == 0 {
			continue
		}
		if set == nil {
			set = map[string]struct{}{}
		}

		added := 0
		for _, action := range strings.Split(actions, ",") {
			action = strings.ToLower(strings.TrimSpace(action))
			if action == "" {
				continue
			}
			set[action] = struct{}{}
			added++
		}
		if added == 0 {
			return nil, fmt.Errorf("invalid event filter %q: empty action list", entry)
		}
		f[event] = set
	}
	return f, nil
}

// Allows reports whether an event with the given action passes the filter.
// Events without an action only pass when their event allows any action.
func (f Filter) Allows(event, action string) bool {
	if len(f) == 0 {
		return true
	}
	actions, ok := f[strings.ToLower(event)]
	if !ok {
		return false
	}
	if len(actions) == 0 {
		return true
	}
	_, ok = actions[strings.ToLower(action)]
	return ok
}

// String renders the filter in the same form ParseFilter accepts.
func (f Filter) String() string {
	if len(f) == 0 {
		return "all events"
	}
	parts := make([]string, 0, len(f))
	for event, actions := range f {
		if len(actions) == 0 {
			parts = append(parts, event)
			continue
		}
		list := make([]string, 0, len(actions))
		for a := range actions {
			list = append(list, a)
		}
		sort.Strings(list)
		parts = append(parts, event+":"+strings.Join(list, ","))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
