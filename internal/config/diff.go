package config

import (
	"reflect"
	"slices"
	"strings"
)

// ConfigDiff describes what changed between two configs. Agent and log level
// changes can be applied live; everything in RestartRequired cannot.
type ConfigDiff struct {
	InterviewerChanged    bool
	GenerateWorkflowMoved bool
	WorkflowChanges       []WorkflowDiff

	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired lists top-level keys whose new values only take effect
	// after a restart (e.g. "providers", "storage").
	RestartRequired []string
}

// AgentsChanged reports whether any agent definition changed.
func (d ConfigDiff) AgentsChanged() bool {
	return d.InterviewerChanged || d.GenerateWorkflowMoved || len(d.WorkflowChanges) > 0
}

// WorkflowDiff describes one workflow that was added, removed or edited.
type WorkflowDiff struct {
	ID      string
	Added   bool
	Removed bool
	Changed bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.InterviewerChanged = !reflect.DeepEqual(old.Agents.Interviewer, new.Agents.Interviewer)
	d.GenerateWorkflowMoved = old.Agents.GenerateWorkflow != new.Agents.GenerateWorkflow

	oldWF := make(map[string]AssistantConfig, len(old.Agents.Workflows))
	for _, wf := range old.Agents.Workflows {
		oldWF[wf.ID] = wf.AssistantConfig
	}
	newWF := make(map[string]AssistantConfig, len(new.Agents.Workflows))
	for _, wf := range new.Agents.Workflows {
		newWF[wf.ID] = wf.AssistantConfig
	}
	for id, o := range oldWF {
		n, exists := newWF[id]
		switch {
		case !exists:
			d.WorkflowChanges = append(d.WorkflowChanges, WorkflowDiff{ID: id, Removed: true})
		case !reflect.DeepEqual(o, n):
			d.WorkflowChanges = append(d.WorkflowChanges, WorkflowDiff{ID: id, Changed: true})
		}
	}
	for id := range newWF {
		if _, exists := oldWF[id]; !exists {
			d.WorkflowChanges = append(d.WorkflowChanges, WorkflowDiff{ID: id, Added: true})
		}
	}
	slices.SortFunc(d.WorkflowChanges, func(a, b WorkflowDiff) int {
		return strings.Compare(a.ID, b.ID)
	})

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""
	if !reflect.DeepEqual(oldServer, newServer) {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !reflect.DeepEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Session != new.Session {
		d.RestartRequired = append(d.RestartRequired, "session")
	}
	if old.Storage != new.Storage {
		d.RestartRequired = append(d.RestartRequired, "storage")
	}
	if old.Feedback != new.Feedback {
		d.RestartRequired = append(d.RestartRequired, "feedback")
	}
	return d
}
