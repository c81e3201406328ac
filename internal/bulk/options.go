package bulk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"routerisk/internal/config"
)

// Options are the per-job processing settings. Zero values fall back to the
// configured defaults via normalize.
type Options struct {
	InputFolderPath       string          `json:"inputFolderPath,omitempty"`
	Terrain               string          `json:"terrain,omitempty"`
	BatchSize             int             `json:"batchSize,omitempty"`
	Concurrency           int             `json:"concurrency,omitempty"`
	InterBatchPauseMs     int             `json:"interBatchPauseMs,omitempty"`
	ItemTimeoutMs         int             `json:"itemTimeoutMs,omitempty"`
	PerTaskTimeoutMs      int             `json:"perTaskTimeoutMs,omitempty"`
	SkipExisting          bool            `json:"skipExisting,omitempty"`
	EnrichExisting        *bool           `json:"enrichExisting,omitempty"`
	ContinueOnTaskFailure bool            `json:"continueOnTaskFailure,omitempty"`
	EnabledTasks          map[string]bool `json:"enabledTasks,omitempty"`
	CheckpointInterval    int             `json:"checkpointInterval,omitempty"`
	ResumeFromIndex       int             `json:"resumeFromIndex,omitempty"`
	BackgroundProcessing  bool            `json:"backgroundProcessing,omitempty"`
}

func (o *Options) normalize(d config.Bulk) {
	if o.InputFolderPath == "" {
		o.InputFolderPath = d.InputFolderPath
	}
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.InterBatchPauseMs <= 0 {
		o.InterBatchPauseMs = int(d.InterBatchPause / time.Millisecond)
	}
	if o.ItemTimeoutMs <= 0 {
		o.ItemTimeoutMs = int(d.ItemTimeout / time.Millisecond)
	}
	if o.PerTaskTimeoutMs <= 0 {
		o.PerTaskTimeoutMs = int(d.PerTaskTimeout / time.Millisecond)
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = d.CheckpointInterval
	}
	if o.EnrichExisting == nil {
		t := true
		o.EnrichExisting = &t
	}
	if o.ResumeFromIndex < 0 {
		o.ResumeFromIndex = 0
	}
}

func (o Options) itemTimeout() time.Duration {
	return time.Duration(o.ItemTimeoutMs) * time.Millisecond
}
func (o Options) perTaskTimeout() time.Duration {
	return time.Duration(o.PerTaskTimeoutMs) * time.Millisecond
}
func (o Options) interBatchPause() time.Duration {
	return time.Duration(o.InterBatchPauseMs) * time.Millisecond
}

func (o Options) enrichExisting() bool { return o.EnrichExisting == nil || *o.EnrichExisting }

// taskEnabled defaults to true for tasks absent from EnabledTasks.
func (o Options) taskEnabled(name string) bool {
	if o.EnabledTasks == nil {
		return true
	}
	v, ok := o.EnabledTasks[name]
	if !ok {
		return true
	}
	return v
}

// Fingerprint hashes the settings that must match for a checkpoint to be
// resumable: anything that changes which routes get created or how they are
// enriched. Concurrency and pacing knobs are deliberately excluded.
func (o Options) Fingerprint() string {
	var tasks []string
	for name, on := range o.EnabledTasks {
		tasks = append(tasks, fmt.Sprintf("%s=%v", name, on))
	}
	sort.Strings(tasks)
	basis := strings.Join([]string{
		o.InputFolderPath,
		o.Terrain,
		fmt.Sprintf("skip=%v", o.SkipExisting),
		fmt.Sprintf("enrichExisting=%v", o.enrichExisting()),
		strings.Join(tasks, ","),
	}, "|")
	sum := sha256.Sum256([]byte(basis))
	return hex.EncodeToString(sum[:8])
}
