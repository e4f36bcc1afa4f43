// Package bootstrap prepares a replication set for incremental sync: source
// tracking, destination tables, the version baseline and the initial data.
package bootstrap

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Stage is one bootstrap step. Stages always run in declared order.
type Stage int

const (
	StageEnableTracking Stage = iota + 1
	StageEnsureSchema
	StageRecordBaseline
	StageSeedData
)

var stageNames = map[Stage]string{
	StageEnableTracking: "enable-tracking",
	StageEnsureSchema:   "ensure-schema",
	StageRecordBaseline: "record-baseline",
	StageSeedData:       "seed-data",
}

func (s Stage) String() string {
	if name, ok := stageNames[s]; ok {
		return name
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// NeedsConfirmation reports whether the stage asks before running.
// Stage 2 asks per table, and only when the set sets confirm_table.
func (s Stage) NeedsConfirmation() bool {
	return s == StageEnableTracking || s == StageSeedData
}

// ParseStages validates codes, drops duplicates and sorts them into declared order.
func ParseStages(codes []int) ([]Stage, error) {
	seen := make(map[Stage]bool, len(codes))
	out := make([]Stage, 0, len(codes))
	for _, code := range codes {
		s := Stage(code)
		if _, ok := stageNames[s]; !ok {
			return nil, fmt.Errorf("unknown bootstrap stage %d (valid stages are 1-4)", code)
		}
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// ParseStageList parses a CLI list such as "2,3" or "ensure-schema,seed-data".
func ParseStageList(list string) ([]int, error) {
	var codes []int
	for _, part := range strings.Split(list, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.Atoi(part); err == nil {
			codes = append(codes, n)
			continue
		}
		found := false
		for s, name := range stageNames {
			if strings.EqualFold(name, part) {
				codes = append(codes, int(s))
				found = true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("unknown bootstrap stage %q", part)
		}
	}
	return codes, nil
}
