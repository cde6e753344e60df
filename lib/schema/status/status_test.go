// Copyright 2026 The Infinite Server26 Authors
// SPDX-License-Identifier: Apache-2.0

package status

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/NaTo1000/infinite-server26/lib/codec"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleSnapshot() *Snapshot {
	snapshot := &Snapshot{
		Generation: 3,
		Posture:    PostureDegraded,
		UpdatedAt:  epoch.Add(3 * time.Second),
		Subsystems: map[SubsystemID]Report{
			Orchestrator: {
				Subsystem:  Orchestrator,
				Timestamp:  1,
				Status:     StatusOnline,
				Mode:       "ACTIVE",
				Metrics:    map[string]float64{"models_loaded": 4, "tasks_running": 12},
				ReceivedAt: epoch.Add(time.Second),
			},
			MeshShield: {
				Subsystem:  MeshShield,
				Timestamp:  7,
				Status:     StatusDegraded,
				Mode:       "SHIELDING",
				Message:    "peer quorum below target",
				ReceivedAt: epoch.Add(3 * time.Second),
			},
		},
	}
	snapshot.Seal()
	return snapshot
}

func TestSubsystemIDKnownSet(t *testing.T) {
	t.Parallel()

	for _, id := range AllSubsystems() {
		if !id.IsKnown() {
			t.Errorf("%q listed in AllSubsystems but not IsKnown", id)
		}
		parsed, err := ParseSubsystemID(string(id))
		if err != nil || parsed != id {
			t.Errorf("ParseSubsystemID(%q) = %q, %v", id, parsed, err)
		}
	}
	if _, err := ParseSubsystemID("toaster"); err == nil {
		t.Error("ParseSubsystemID accepted an unknown name")
	}

	ids := AllSubsystems()
	ids[0] = "mutated"
	if AllSubsystems()[0] != Orchestrator {
		t.Error("AllSubsystems returned shared backing storage")
	}
}

func TestStatusLabel(t *testing.T) {
	t.Parallel()

	cases := map[Status]string{
		StatusOnline:   "Online",
		StatusDegraded: "Degraded",
		StatusOffline:  "Offline",
		"":             "Unknown",
	}
	for input, want := range cases {
		if got := input.Label(); got != want {
			t.Errorf("Status(%q).Label() = %q, want %q", input, got, want)
		}
	}
}

func TestPostureWorse(t *testing.T) {
	t.Parallel()

	if got := PostureNominal.Worse(PostureCritical); got != PostureCritical {
		t.Errorf("Nominal.Worse(Critical) = %q", got)
	}
	if got := PostureCritical.Worse(PostureDegraded); got != PostureCritical {
		t.Errorf("Critical.Worse(Degraded) = %q", got)
	}
	if got := PostureUnknown.Worse(PostureNominal); got != PostureNominal {
		t.Errorf("Unknown.Worse(Nominal) = %q", got)
	}
	if PostureNominal.Label() != "FORTRESS MODE ACTIVE" {
		t.Errorf("nominal label = %q", PostureNominal.Label())
	}
}

func TestDigestStableAndContentSensitive(t *testing.T) {
	t.Parallel()

	first := sampleSnapshot()
	second := sampleSnapshot()
	if first.Digest != second.Digest {
		t.Fatalf("equal content produced different digests: %s vs %s", first.Digest, second.Digest)
	}
	if first.Digest.IsZero() {
		t.Fatal("digest is zero")
	}

	changed := sampleSnapshot()
	changed.Generation = 4
	changed.Seal()
	if changed.Digest == first.Digest {
		t.Error("generation change did not change digest")
	}

	metric := sampleSnapshot()
	report := metric.Subsystems[Orchestrator].Clone()
	report.Metrics["tasks_running"] = 13
	metric.Subsystems[Orchestrator] = report
	metric.Seal()
	if metric.Digest == first.Digest {
		t.Error("metric change did not change digest")
	}
}

func TestDigestEncodings(t *testing.T) {
	t.Parallel()

	digest := sampleSnapshot().Digest

	text, err := json.Marshal(digest)
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if len(text) != 66 {
		t.Errorf("JSON digest is %d bytes, want 64 hex characters plus quotes", len(text))
	}
	var fromJSON Digest
	if err := json.Unmarshal(text, &fromJSON); err != nil || fromJSON != digest {
		t.Errorf("JSON round trip: %s, %v", fromJSON, err)
	}

	binary, err := codec.Marshal(digest)
	if err != nil {
		t.Fatalf("codec.Marshal: %v", err)
	}
	if len(binary) != 34 {
		t.Errorf("CBOR digest is %d bytes, want 34 (2-byte header + 32)", len(binary))
	}
	var fromCBOR Digest
	if err := codec.Unmarshal(binary, &fromCBOR); err != nil || fromCBOR != digest {
		t.Errorf("CBOR round trip: %s, %v", fromCBOR, err)
	}

	if _, err := ParseDigest("abcd"); err == nil {
		t.Error("ParseDigest accepted a short digest")
	}
}

// Clients recompute the digest after decoding, so a snapshot that
// crossed the wire must still verify.
func TestSnapshotValidatesAfterTransport(t *testing.T) {
	t.Parallel()

	original := sampleSnapshot()
	for _, format := range []codec.Format{codec.FormatJSON, codec.FormatCBOR} {
		data, err := format.Encode(original)
		if err != nil {
			t.Fatalf("%s Encode: %v", format, err)
		}
		var decoded Snapshot
		if err := format.Decode(data, &decoded); err != nil {
			t.Fatalf("%s Decode: %v", format, err)
		}
		if err := decoded.Validate(); err != nil {
			t.Errorf("%s: decoded snapshot fails validation: %v", format, err)
		}
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	if err := sampleSnapshot().Validate(); err != nil {
		t.Fatalf("valid snapshot rejected: %v", err)
	}
	if err := Empty().Validate(); err != nil {
		t.Fatalf("empty snapshot rejected: %v", err)
	}

	broken := sampleSnapshot()
	broken.Posture = "sideways"
	report := broken.Subsystems[Orchestrator].Clone()
	report.Subsystem = Ledger
	report.Metrics["tasks_running"] = math.Inf(1)
	broken.Subsystems[Orchestrator] = report

	err := broken.Validate()
	if err == nil {
		t.Fatal("broken snapshot passed validation")
	}
	for _, fragment := range []string{"posture", "holds a report for", "not finite"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q does not mention %q", err, fragment)
		}
	}
}

func TestValidateDetectsStaleDigest(t *testing.T) {
	t.Parallel()

	snapshot := sampleSnapshot()
	snapshot.Generation++
	if err := snapshot.Validate(); err == nil || !strings.Contains(err.Error(), "digest") {
		t.Errorf("modification after Seal not detected: %v", err)
	}
}

func TestDiffAndApply(t *testing.T) {
	t.Parallel()

	base := sampleSnapshot()
	target := base.Clone()
	target.Generation = 4
	target.Posture = PostureNominal
	target.UpdatedAt = epoch.Add(5 * time.Second)
	target.Subsystems[MeshShield] = Report{
		Subsystem:  MeshShield,
		Timestamp:  8,
		Status:     StatusOnline,
		Mode:       "SHIELDING",
		ReceivedAt: epoch.Add(5 * time.Second),
	}
	target.Seal()

	delta := Diff(base, target)
	if delta.BaseGeneration != 3 || delta.Generation != 4 {
		t.Errorf("delta generations = %d -> %d, want 3 -> 4", delta.BaseGeneration, delta.Generation)
	}
	if changed := delta.ChangedSubsystems(); len(changed) != 1 || changed[0] != MeshShield {
		t.Errorf("changed = %v, want [mesh-shield]", changed)
	}
	if len(delta.Removed) != 0 {
		t.Errorf("removed = %v, want none", delta.Removed)
	}

	rebuilt, err := delta.Apply(base)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if rebuilt.Digest != target.Digest {
		t.Errorf("rebuilt digest %s, want %s", rebuilt.Digest, target.Digest)
	}
	if base.Subsystems[MeshShield].Timestamp != 7 {
		t.Error("Apply modified the base snapshot")
	}
}

func TestApplyRejectsWrongBase(t *testing.T) {
	t.Parallel()

	base := sampleSnapshot()
	target := base.Clone()
	target.Generation = 4
	target.Seal()
	delta := Diff(base, target)

	older := sampleSnapshot()
	older.Generation = 2
	older.Seal()
	if _, err := delta.Apply(older); !errors.Is(err, ErrDeltaBase) {
		t.Errorf("Apply on wrong base: got %v, want ErrDeltaBase", err)
	}

	delta.Digest = Digest{1}
	if _, err := delta.Apply(base); !errors.Is(err, ErrDigestMismatch) {
		t.Errorf("Apply with wrong digest: got %v, want ErrDigestMismatch", err)
	}
}

func TestSeverityForStatus(t *testing.T) {
	t.Parallel()

	if SeverityForStatus(StatusOffline) != SeverityCritical ||
		SeverityForStatus(StatusDegraded) != SeverityWarning ||
		SeverityForStatus(StatusOnline) != SeverityInfo {
		t.Error("severity mapping mismatch")
	}
}

func TestReportAdmits(t *testing.T) {
	t.Parallel()

	live := Report{Subsystem: Ledger, Timestamp: 5, Status: StatusOnline}
	if live.Admits(Report{Timestamp: 5}) {
		t.Error("equal timestamp admitted after a real report")
	}
	if !live.Admits(Report{Timestamp: 6}) {
		t.Error("greater timestamp refused")
	}

	demotion := Report{Subsystem: Ledger, Timestamp: 6, Status: StatusOffline, Mode: ModeUnresponsive, Synthetic: true}
	if !demotion.Unresponsive() {
		t.Error("demotion not recognized as unresponsive")
	}
	if demotion.Admits(Report{Timestamp: 6}) {
		t.Error("real report at the demotion's timestamp admitted")
	}
	if !demotion.Admits(Report{Timestamp: 7}) {
		t.Error("real report past the demotion refused")
	}
	if demotion.Admits(Report{Timestamp: 5}) {
		t.Error("real report older than the demotion admitted")
	}
	if demotion.Admits(Report{Timestamp: 6, Synthetic: true}) {
		t.Error("second demotion at the same timestamp admitted")
	}
}
