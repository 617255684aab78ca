package generation

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Stage is the quality tier of a partial media result.
type Stage int

// Stages in ascending quality order. A unit's stage is monotonic: once
// final it is never downgraded.
const (
	StagePreview Stage = iota
	StageMedium
	StageFinal
)

// String returns the wire name of the stage.
func (s Stage) String() string {
	switch s {
	case StageFinal:
		return "final"
	case StageMedium:
		return "medium"
	default:
		return "preview"
	}
}

// unitIDPattern extracts the unit identifier from a remote resource URL.
var unitIDPattern = regexp.MustCompile(`/images/([a-f0-9-]+)\.(png|jpg)`)

// extractUnitID returns the unit id embedded in the resource URL, or ""
// when the URL does not match the expected shape.
func extractUnitID(url string) string {
	m := unitIDPattern.FindStringSubmatch(url)
	if m == nil {
		return ""
	}
	return m[1]
}

// Thresholds holds the tunable constants of the stage classifier and the
// stall heuristics. The numeric values are calibrated against observed
// upstream behavior, not a published contract.
type Thresholds struct {
	// MediumSize is the payload size above which a unit is at least medium.
	MediumSize int
	// FinalSize is the payload size above which a .jpg unit is final.
	FinalSize int
	// StallGrace is the window after the first medium unit, on the
	// message-receive path, before a zero-final attempt is blocked.
	StallGrace time.Duration
	// StallReadGrace is the equivalent window on the read-timeout path.
	StallReadGrace time.Duration
	// IdleComplete is the quiet period after which an attempt with at
	// least one final unit is treated as complete.
	IdleComplete time.Duration
	// ReadTimeout is the per-read receive timeout.
	ReadTimeout time.Duration
	// Attempt is the overall deadline for a single attempt.
	Attempt time.Duration
}

// DefaultThresholds returns the tuned defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MediumSize:     30000,
		FinalSize:      100000,
		StallGrace:     15 * time.Second,
		StallReadGrace: 10 * time.Second,
		IdleComplete:   10 * time.Second,
		ReadTimeout:    5 * time.Second,
		Attempt:        120 * time.Second,
	}
}

// classify assigns a stage from the resource URL extension and the payload
// size: final iff .jpg above FinalSize, else medium above MediumSize, else
// preview.
func (t Thresholds) classify(url string, size int) Stage {
	if strings.HasSuffix(url, ".jpg") && size > t.FinalSize {
		return StageFinal
	}
	if size > t.MediumSize {
		return StageMedium
	}
	return StagePreview
}

// MediaUnit is one tracked image within a generation attempt.
type MediaUnit struct {
	// ID is the stable identifier extracted from the resource URL.
	ID string
	// Stage is the current quality tier.
	Stage Stage
	// Blob is the base64 payload of the current best version.
	Blob string
	// Size is len(Blob), the classifier input.
	Size int
	// SourceURL is the remote locator the unit arrived under.
	SourceURL string
}

// Final reports whether the unit reached the final stage.
func (u *MediaUnit) Final() bool {
	return u.Stage == StageFinal
}

// Progress is one stage-advancing unit update reported to callers.
type Progress struct {
	UnitID    string
	Stage     Stage
	Size      int
	Final     bool
	Completed int
	Target    int
}

// ProgressFunc receives per-unit progress during an attempt. It is invoked
// on the attempt's own goroutine and must not block indefinitely.
type ProgressFunc func(ctx context.Context, p Progress)

// generationJob tracks the units of a single attempt. It is exclusively
// owned by the driver invocation that created it and dies with the attempt.
type generationJob struct {
	target        int
	units         map[string]*MediaUnit
	firstMediumAt time.Time
}

func newGenerationJob(target int) *generationJob {
	return &generationJob{
		target: target,
		units:  make(map[string]*MediaUnit),
	}
}

// observe applies a unit event. A unit already final is never overwritten
// by a later, lower-stage event for the same id. It returns the applied
// unit, or nil when the event was discarded.
func (j *generationJob) observe(unit MediaUnit, now time.Time) *MediaUnit {
	if unit.Stage == StageMedium && j.firstMediumAt.IsZero() {
		j.firstMediumAt = now
	}

	existing := j.units[unit.ID]
	if existing != nil && existing.Final() {
		return nil
	}

	applied := unit
	j.units[unit.ID] = &applied
	return &applied
}

// completed returns the number of final units.
func (j *generationJob) completed() int {
	n := 0
	for _, u := range j.units {
		if u.Final() {
			n++
		}
	}
	return n
}

// hasMedium reports whether any unit is at exactly the medium stage.
func (j *generationJob) hasMedium() bool {
	for _, u := range j.units {
		if u.Stage == StageMedium {
			return true
		}
	}
	return false
}

// blocked reports the historical stall condition: some unit reached medium
// but no unit reached final.
func (j *generationJob) blocked() bool {
	return j.hasMedium() && j.completed() == 0
}

// keep selects the units to return: final units first, larger payloads
// break ties, at most target distinct ids.
func (j *generationJob) keep() []*MediaUnit {
	ordered := make([]*MediaUnit, 0, len(j.units))
	for _, u := range j.units {
		ordered = append(ordered, u)
	}
	sort.Slice(ordered, func(a, b int) bool {
		if ordered[a].Final() != ordered[b].Final() {
			return ordered[a].Final()
		}
		return ordered[a].Size > ordered[b].Size
	})
	if len(ordered) > j.target {
		ordered = ordered[:j.target]
	}
	return ordered
}
