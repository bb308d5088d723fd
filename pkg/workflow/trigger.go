package workflow

import (
	"fmt"
	"path"
	"slices"

	"github.com/cipolicy/gh-ci/pkg/logger"
)

var triggerLog = logger.New("workflow:trigger")

// EventFilter enables one event kind, optionally restricted to branches.
// For push events the branch is the pushed branch; for pull requests it is
// the target branch. An empty Branches list accepts every branch.
type EventFilter struct {
	Kind     EventKind
	Branches []string
}

// Trigger is the set of events that cause a workflow to run.
type Trigger struct {
	Filters []EventFilter
}

// IsEmpty reports whether no event can trigger the workflow.
func (t Trigger) IsEmpty() bool {
	return len(t.Filters) == 0
}

// Filter returns the filter for an event kind.
func (t Trigger) Filter(kind EventKind) (EventFilter, bool) {
	for _, f := range t.Filters {
		if f.Kind == kind {
			return f, true
		}
	}
	return EventFilter{}, false
}

// Matches reports whether the event triggers the workflow.
func (t Trigger) Matches(ev Event) bool {
	filter, ok := t.Filter(ev.Kind)
	if !ok {
		triggerLog.Printf("No filter for event kind %s", ev.Kind)
		return false
	}
	if len(filter.Branches) == 0 || !ev.Kind.supportsBranchFilter() {
		return true
	}
	for _, pattern := range filter.Branches {
		if matchBranch(pattern, ev.Branch) {
			triggerLog.Printf("Branch %q matched pattern %q for %s", ev.Branch, pattern, ev.Kind)
			return true
		}
	}
	triggerLog.Printf("Branch %q matched none of %v for %s", ev.Branch, filter.Branches, ev.Kind)
	return false
}

func (t Trigger) clone() Trigger {
	clone := Trigger{Filters: make([]EventFilter, len(t.Filters))}
	for i, f := range t.Filters {
		clone.Filters[i] = EventFilter{Kind: f.Kind, Branches: slices.Clone(f.Branches)}
	}
	return clone
}

// matchBranch matches a branch against an exact name or a glob where "*"
// does not cross "/".
func matchBranch(pattern, branch string) bool {
	if pattern == branch {
		return true
	}
	matched, err := path.Match(pattern, branch)
	return err == nil && matched
}

// Event is a concrete repository event.
type Event struct {
	Kind EventKind
	// Branch is the pushed branch, the pull request's target branch, or
	// empty for merge groups.
	Branch string
}

// ParseEvent builds an Event from its kind name and branch.
func ParseEvent(kind, branch string) (Event, error) {
	ev := Event{Kind: EventKind(kind), Branch: branch}
	if !ev.Kind.IsValid() {
		return Event{}, fmt.Errorf("unsupported event %q (expected one of %v)", kind, EventKinds)
	}
	if ev.Kind.supportsBranchFilter() && branch == "" {
		return Event{}, fmt.Errorf("%s events require a branch", kind)
	}
	return ev, nil
}

func (e Event) String() string {
	if e.Branch == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s (%s)", e.Kind, e.Branch)
}
