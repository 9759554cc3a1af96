package provision

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// DeploymentState is the lifecycle state of an infrastructure deployment
type DeploymentState string

const (
	StateCreateInProgress DeploymentState = "CREATE_IN_PROGRESS"
	StateCreateComplete   DeploymentState = "CREATE_COMPLETE"
	StateCreateFailed     DeploymentState = "CREATE_FAILED"
)

// DeploymentStatus is the latest known state of a deployment
type DeploymentStatus struct {
	State  DeploymentState `json:"state"`
	Reason string          `json:"reason,omitempty"`
}

// Deployer provisions infrastructure from a template
type Deployer interface {
	// Deploy starts provisioning id from template with params
	Deploy(ctx context.Context, template, id string, params map[string]string) error
	// Status reports the state of a deployment started by Deploy
	Status(ctx context.Context, id string) (DeploymentStatus, error)
}

// FlattenParams turns template parameters into strings. Lists are joined
// with commas; other values use their default formatting.
func FlattenParams(params map[string]any) map[string]string {
	flat := make(map[string]string, len(params))
	for k, v := range params {
		flat[k] = flattenValue(v)
	}
	return flat
}

func flattenValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []string:
		return strings.Join(t, ",")
	case []any:
		parts := make([]string, len(t))
		for i, e := range t {
			parts[i] = flattenValue(e)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

// sortedKeys is used for stable log output
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
