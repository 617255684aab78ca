package generation

import (
	"strings"
	"testing"
	"time"
)

func TestClassify(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name string
		url  string
		size int
		want Stage
	}{
		{"large jpg is final", "https://assets.grok.com/images/abc.jpg", 150000, StageFinal},
		{"mid jpg is medium", "https://assets.grok.com/images/abc.jpg", 50000, StageMedium},
		{"small jpg is preview", "https://assets.grok.com/images/abc.jpg", 10000, StagePreview},
		{"small png is preview", "https://assets.grok.com/images/abc.png", 10000, StagePreview},
		{"large png is only medium", "https://assets.grok.com/images/abc.png", 150000, StageMedium},
		{"boundary final size not final", "https://assets.grok.com/images/abc.jpg", 100000, StageMedium},
		{"boundary medium size not medium", "https://assets.grok.com/images/abc.png", 30000, StagePreview},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := th.classify(tt.url, tt.size); got != tt.want {
				t.Errorf("classify(%q, %d) = %v, want %v", tt.url, tt.size, got, tt.want)
			}
		})
	}
}

func TestExtractUnitID(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://assets.grok.com/images/0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9.jpg", "0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9"},
		{"https://assets.grok.com/images/deadbeef-cafe.png", "deadbeef-cafe"},
		{"https://assets.grok.com/videos/abc.mp4", ""},
		{"https://assets.grok.com/images/ABC.jpg", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := extractUnitID(tt.url); got != tt.want {
			t.Errorf("extractUnitID(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestJob_StageMonotonic(t *testing.T) {
	job := newGenerationJob(4)
	now := time.Now()

	applied := job.observe(MediaUnit{ID: "u1", Stage: StageFinal, Size: 150000}, now)
	if applied == nil {
		t.Fatal("expected final unit to apply")
	}

	// A later, lower-stage event for the same id must not downgrade it.
	applied = job.observe(MediaUnit{ID: "u1", Stage: StageMedium, Size: 50000}, now.Add(time.Second))
	if applied != nil {
		t.Error("expected lower-stage event to be discarded")
	}
	if !job.units["u1"].Final() {
		t.Error("unit lost its final stage")
	}
	if job.units["u1"].Size != 150000 {
		t.Errorf("unit payload replaced, size = %d", job.units["u1"].Size)
	}
}

func TestJob_UpgradeReplacesPayload(t *testing.T) {
	job := newGenerationJob(4)
	now := time.Now()

	job.observe(MediaUnit{ID: "u1", Stage: StagePreview, Blob: strings.Repeat("a", 10), Size: 10}, now)
	job.observe(MediaUnit{ID: "u1", Stage: StageMedium, Blob: strings.Repeat("b", 20), Size: 20}, now)

	u := job.units["u1"]
	if u.Stage != StageMedium || u.Size != 20 {
		t.Errorf("expected upgraded unit, got stage=%v size=%d", u.Stage, u.Size)
	}
}

func TestJob_FirstMediumRecordedOnce(t *testing.T) {
	job := newGenerationJob(4)
	t0 := time.Now()

	job.observe(MediaUnit{ID: "u1", Stage: StageMedium, Size: 40000}, t0)
	job.observe(MediaUnit{ID: "u2", Stage: StageMedium, Size: 40000}, t0.Add(5*time.Second))

	if !job.firstMediumAt.Equal(t0) {
		t.Errorf("firstMediumAt = %v, want %v", job.firstMediumAt, t0)
	}
}

func TestJob_Keep_SelectsByFinalThenSize(t *testing.T) {
	job := newGenerationJob(4)
	now := time.Now()

	// Six distinct final units plus assorted lower stages.
	sizes := map[string]int{
		"f1": 110000, "f2": 160000, "f3": 130000,
		"f4": 150000, "f5": 120000, "f6": 140000,
	}
	for id, size := range sizes {
		job.observe(MediaUnit{ID: id, Stage: StageFinal, Size: size}, now)
	}
	job.observe(MediaUnit{ID: "m1", Stage: StageMedium, Size: 90000}, now)

	kept := job.keep()
	if len(kept) != 4 {
		t.Fatalf("kept %d units, want 4", len(kept))
	}

	wantOrder := []string{"f2", "f4", "f6", "f3"}
	for i, want := range wantOrder {
		if kept[i].ID != want {
			t.Errorf("kept[%d] = %s (size %d), want %s", i, kept[i].ID, kept[i].Size, want)
		}
	}
}

func TestJob_Keep_FillsWithNonFinal(t *testing.T) {
	job := newGenerationJob(3)
	now := time.Now()

	job.observe(MediaUnit{ID: "f1", Stage: StageFinal, Size: 110000}, now)
	job.observe(MediaUnit{ID: "m1", Stage: StageMedium, Size: 90000}, now)
	job.observe(MediaUnit{ID: "p1", Stage: StagePreview, Size: 1000}, now)

	kept := job.keep()
	if len(kept) != 3 {
		t.Fatalf("kept %d units, want 3", len(kept))
	}
	if kept[0].ID != "f1" {
		t.Errorf("kept[0] = %s, want the final unit first", kept[0].ID)
	}
}

func TestStalled(t *testing.T) {
	th := DefaultThresholds()
	base := time.Now()

	t.Run("no medium yet", func(t *testing.T) {
		job := newGenerationJob(4)
		if stalled(job, th.StallGrace, base.Add(time.Minute)) {
			t.Error("stall without any medium unit")
		}
	})

	t.Run("medium at T, still idle at T+16s", func(t *testing.T) {
		job := newGenerationJob(4)
		job.observe(MediaUnit{ID: "m1", Stage: StageMedium, Size: 40000}, base)
		if !stalled(job, th.StallGrace, base.Add(16*time.Second)) {
			t.Error("expected stall after the grace window")
		}
	})

	t.Run("inside the grace window", func(t *testing.T) {
		job := newGenerationJob(4)
		job.observe(MediaUnit{ID: "m1", Stage: StageMedium, Size: 40000}, base)
		if stalled(job, th.StallGrace, base.Add(14*time.Second)) {
			t.Error("stalled before the grace window elapsed")
		}
	})

	t.Run("final unit clears the stall", func(t *testing.T) {
		job := newGenerationJob(4)
		job.observe(MediaUnit{ID: "m1", Stage: StageMedium, Size: 40000}, base)
		job.observe(MediaUnit{ID: "f1", Stage: StageFinal, Size: 150000}, base.Add(time.Second))
		if stalled(job, th.StallGrace, base.Add(time.Minute)) {
			t.Error("stalled despite a final unit")
		}
	})

	t.Run("read-timeout path uses its own window", func(t *testing.T) {
		job := newGenerationJob(4)
		job.observe(MediaUnit{ID: "m1", Stage: StageMedium, Size: 40000}, base)
		if stalled(job, th.StallReadGrace, base.Add(9*time.Second)) {
			t.Error("stalled before the read-path window elapsed")
		}
		if !stalled(job, th.StallReadGrace, base.Add(11*time.Second)) {
			t.Error("expected stall after the read-path window")
		}
	})
}

func TestStageString(t *testing.T) {
	if StagePreview.String() != "preview" || StageMedium.String() != "medium" || StageFinal.String() != "final" {
		t.Error("unexpected stage names")
	}
}

func TestError_Format(t *testing.T) {
	e := &Error{Code: CodeBlocked, Message: "no finals"}
	if e.Error() != "blocked: no finals" {
		t.Errorf("Error() = %q", e.Error())
	}
	generic := &Error{Message: "boom"}
	if generic.Error() != "boom" {
		t.Errorf("Error() = %q", generic.Error())
	}
}
