package model

import (
	"encoding/json"
	"fmt"
)

// Stage is the lifecycle stage of a tracked position. Values are ordered.
type Stage int

const (
	StageOpen Stage = iota
	StageBreakevenApplied
	StagePartialClosed
	StageTrailing
	StageClosed
)

var stageNames = [...]string{
	StageOpen:             "OPEN",
	StageBreakevenApplied: "BREAKEVEN_APPLIED",
	StagePartialClosed:    "PARTIAL_CLOSED",
	StageTrailing:         "TRAILING",
	StageClosed:           "CLOSED",
}

func (s Stage) String() string {
	if s < StageOpen || s > StageClosed {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageNames[s]
}

func (s Stage) Valid() bool { return s >= StageOpen && s <= StageClosed }

func ParseStage(v string) (Stage, error) {
	for i, n := range stageNames {
		if n == v {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", v)
}

func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid stage %d", int(s))
	}
	return json.Marshal(s.String())
}

func (s *Stage) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	st, err := ParseStage(v)
	if err != nil {
		return err
	}
	*s = st
	return nil
}
