// Package extract pulls Slurm resources from the REST API into the store.
package extract

import (
	"fmt"
	"strings"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/util"
)

// Resource maps one API endpoint to one table.
type Resource struct {
	// Name is the table name.
	Name string

	// Path is relative to /slurm/{version}/.
	Path string

	// Selector is the top-level field holding the records. An array yields
	// one row per element, an object yields a single row.
	Selector string

	// PrimaryKey is the record field rows are merged on. Without one, rows
	// are appended under a key derived from the load run.
	PrimaryKey string
}

// Merge reports whether rows replace earlier rows with the same key.
func (r Resource) Merge() bool {
	return r.PrimaryKey != ""
}

// DefaultResources are loaded when the config names none.
var DefaultResources = []Resource{
	{Name: "nodes", Path: "nodes", Selector: "nodes", PrimaryKey: "name"},
	{Name: "partitions", Path: "partitions", Selector: "partitions", PrimaryKey: "name"},
	{Name: "jobs", Path: "jobs", Selector: "jobs", PrimaryKey: "job_id"},
	{Name: "reservations", Path: "reservations", Selector: "reservations", PrimaryKey: "name"},
	{Name: "diag", Path: "diag", Selector: "statistics"},
}

// Names lists the names of resources.
func Names(resources []Resource) []string {
	names := make([]string, len(resources))
	for i, r := range resources {
		names[i] = r.Name
	}
	return names
}

// Select returns the default resources named in names, in the given order.
// An empty list selects all of them.
func Select(names []string) ([]Resource, error) {
	if len(names) == 0 {
		return DefaultResources, nil
	}

	byName := make(map[string]Resource, len(DefaultResources))
	for _, r := range DefaultResources {
		byName[r.Name] = r
	}

	selected := make([]Resource, 0, len(names))
	seen := make(map[string]bool)
	for _, name := range names {
		name = strings.TrimSpace(name)
		r, ok := byName[name]
		if !ok {
			known := Names(DefaultResources)
			suggestion := "Known resources: " + util.JoinOrNone(known)
			if similar := util.SuggestSimilar(name, known, 2); len(similar) > 0 {
				suggestion = fmt.Sprintf("Did you mean %q? %s", similar[0], suggestion)
			}
			return nil, errors.New(errors.ErrConfig,
				fmt.Sprintf("Unknown resource %q", name),
				suggestion)
		}
		if seen[name] {
			continue
		}
		seen[name] = true
		selected = append(selected, r)
	}
	return selected, nil
}
