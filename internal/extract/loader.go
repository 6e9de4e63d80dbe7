package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/slurmmon/slurmmon/internal/errors"
	"github.com/slurmmon/slurmmon/internal/logger"
	"github.com/slurmmon/slurmmon/internal/remote"
	"github.com/slurmmon/slurmmon/internal/slurmapi"
	"github.com/slurmmon/slurmmon/internal/store"
)

// Defaults for LoadInfo naming.
const (
	DefaultPipeline = "slurm"
	DefaultDataset  = "slurm_data"
)

// LoadInfo summarises a finished load.
type LoadInfo struct {
	RunID       string
	Pipeline    string
	Dataset     string
	Destination string
	Tables      map[string]int
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Rows is the total number of rows written.
func (li *LoadInfo) Rows() int {
	total := 0
	for _, n := range li.Tables {
		total += n
	}
	return total
}

func (li *LoadInfo) String() string {
	names := make([]string, 0, len(li.Tables))
	for name := range li.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%d", name, li.Tables[name]))
	}
	return fmt.Sprintf("pipeline %s run %s: %d rows into %s (%s) in %s",
		li.Pipeline, li.RunID, li.Rows(), li.Destination, strings.Join(parts, ", "),
		li.FinishedAt.Sub(li.StartedAt).Round(time.Millisecond))
}

// Loader fetches resources and writes them to a store.
type Loader struct {
	Store     *store.Store
	Resources []Resource
	Pipeline  string
	Dataset   string
	API       slurmapi.Options
	Log       logger.Logger
}

// Operation exposes Load as a tunneled operation.
func (l *Loader) Operation() remote.OperationFunc[*LoadInfo] {
	return l.Load
}

// Load fetches every resource and upserts it. The first failing resource
// stops the load; the run is recorded as failed.
func (l *Loader) Load(ctx context.Context, oc remote.OperationContext) (*LoadInfo, error) {
	log := l.Log
	if log == nil {
		log = logger.Noop()
	}
	pipeline, dataset := l.Pipeline, l.Dataset
	if pipeline == "" {
		pipeline = DefaultPipeline
	}
	if dataset == "" {
		dataset = DefaultDataset
	}
	resources := l.Resources
	if len(resources) == 0 {
		resources = DefaultResources
	}

	run, err := l.Store.BeginRun(pipeline, dataset)
	if err != nil {
		return nil, err
	}

	apiOpts := l.API
	if apiOpts.Log == nil {
		apiOpts.Log = log
	}
	client := slurmapi.NewClient(oc, apiOpts)
	tables := make(map[string]int, len(resources))

	for _, res := range resources {
		n, err := l.loadResource(ctx, client, run.ID, res, log)
		if err != nil {
			wrapped := errors.WrapWithCode(err, errors.ErrLoad,
				fmt.Sprintf("Loading %s failed", res.Name),
				"Re-run once the API is healthy; rows already written are kept")
			if finishErr := l.Store.FinishRun(run, tables, wrapped); finishErr != nil {
				log.Warn("recording failed run: %v", finishErr)
			}
			return nil, wrapped
		}
		tables[res.Name] = n
		log.Info("%s: %d rows", res.Name, n)
	}

	if err := l.Store.FinishRun(run, tables, nil); err != nil {
		return nil, err
	}

	return &LoadInfo{
		RunID:       run.ID,
		Pipeline:    pipeline,
		Dataset:     dataset,
		Destination: l.Store.Path(),
		Tables:      tables,
		StartedAt:   run.StartedAt,
		FinishedAt:  *run.FinishedAt,
	}, nil
}

func (l *Loader) loadResource(ctx context.Context, client *slurmapi.Client, runID string, res Resource, log logger.Logger) (int, error) {
	path := client.SlurmPath(res.Path)
	resp, err := client.Get(ctx, path)
	if err != nil {
		return 0, err
	}
	if !resp.OK() {
		return 0, fmt.Errorf("GET %s returned %d", path, resp.StatusCode)
	}

	items, apiErrors, err := selectRecords(resp.Body, res.Selector)
	if err != nil {
		return 0, fmt.Errorf("GET %s: %w", path, err)
	}
	for _, e := range apiErrors {
		log.Warn("%s: slurmrestd reported: %s", res.Name, e.Error)
	}

	rows := make([]store.Row, 0, len(items))
	for i, item := range items {
		key := fmt.Sprintf("%s/%d", runID, i)
		if res.Merge() {
			k, ok := recordKey(item, res.PrimaryKey)
			if !ok {
				log.Warn("%s: record %d has no %s, skipped", res.Name, i, res.PrimaryKey)
				continue
			}
			key = k
		}
		rows = append(rows, store.Row{Key: key, Data: item})
	}

	return l.Store.Upsert(res.Name, runID, rows)
}

// selectRecords picks the selector field out of body. An empty selector
// means the whole body.
func selectRecords(body []byte, selector string) ([]json.RawMessage, []slurmapi.APIError, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, nil, fmt.Errorf("decode: %w", err)
	}

	var apiErrors []slurmapi.APIError
	if raw, ok := envelope["errors"]; ok {
		_ = json.Unmarshal(raw, &apiErrors)
	}

	selected := json.RawMessage(body)
	if selector != "" {
		raw, ok := envelope[selector]
		if !ok {
			if len(apiErrors) > 0 {
				return nil, apiErrors, apiErrorsToError(apiErrors)
			}
			return nil, apiErrors, nil
		}
		selected = raw
	}

	trimmed := bytes.TrimSpace(selected)
	switch {
	case len(trimmed) == 0, bytes.Equal(trimmed, []byte("null")):
		return nil, apiErrors, nil
	case trimmed[0] == '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, apiErrors, fmt.Errorf("decode: %w", err)
		}
		return items, apiErrors, nil
	default:
		return []json.RawMessage{trimmed}, apiErrors, nil
	}
}

// apiErrorsToError joins the errors slurmrestd sent in place of data.
func apiErrorsToError(apiErrors []slurmapi.APIError) error {
	msgs := make([]string, len(apiErrors))
	for i, e := range apiErrors {
		msgs[i] = fmt.Sprintf("%s (errno %d)", e.Error, e.ErrorNumber)
	}
	return fmt.Errorf("slurmrestd reported: %s", strings.Join(msgs, "; "))
}

// recordKey renders field of item as a string key.
func recordKey(item json.RawMessage, field string) (string, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(item, &fields); err != nil {
		return "", false
	}
	raw, ok := fields[field]
	if !ok {
		return "", false
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || v == nil {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	default:
		return "", false
	}
}
