package plan_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/xpdacq/acq/plan"
)

type obj string

func (o obj) Name() string { return string(o) }

func ExampleSummarize() {
	sh := obj("shutter")
	det := obj("pe1c")
	p := plan.Chain(
		plan.AbsSet(sh, 1),
		plan.Count([]plan.Named{det}, 1, nil),
		plan.AbsSet(sh, 0),
	)
	s, _ := plan.Summarize(p)
	fmt.Println(s)
	// Output:
	// shutter -> 1
	// =================================== Open Run ===================================
	//   Read ['pe1c']
	// ================================== Close Run ===================================
	// shutter -> 0
}

func TestCountMessageOrder(t *testing.T) {
	det := obj("pe1c")
	msgs, err := plan.Messages(plan.Count([]plan.Named{det}, 2, map[string]interface{}{"sp_type": "ct"}))
	if err != nil {
		t.Fatal(err)
	}
	expected := []plan.Command{
		plan.OpenRun,
		plan.Checkpoint, plan.Trigger, plan.Create, plan.Read, plan.Save,
		plan.Checkpoint, plan.Trigger, plan.Create, plan.Read, plan.Save,
		plan.CloseRun,
	}
	if len(msgs) != len(expected) {
		t.Fatalf("expected %d messages, got %d", len(expected), len(msgs))
	}
	for i, m := range msgs {
		if m.Command != expected[i] {
			t.Errorf("message %d: expected %s got %s", i, expected[i], m.Command)
		}
	}
	if msgs[0].Kwargs["sp_type"] != "ct" {
		t.Errorf("expected run metadata to carry sp_type, got %v", msgs[0].Kwargs)
	}
	if msgs[0].Kwargs["plan_name"] != "count" {
		t.Errorf("expected default plan_name count, got %v", msgs[0].Kwargs["plan_name"])
	}
}

func TestCountDoesNotMutateMetadata(t *testing.T) {
	md := map[string]interface{}{"a": 1}
	_, err := plan.Messages(plan.Count([]plan.Named{obj("d")}, 1, md))
	if err != nil {
		t.Fatal(err)
	}
	if len(md) != 1 {
		t.Errorf("expected caller metadata to be left alone, got %v", md)
	}
}

func TestChainStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	failing := func(yield func(plan.Msg) bool) error {
		yield(plan.Msg{Command: plan.Checkpoint})
		return boom
	}
	after := false
	tail := func(yield func(plan.Msg) bool) error {
		after = true
		return nil
	}
	_, err := plan.Messages(plan.Chain(plan.AbsSet(obj("sh"), 1), failing, tail))
	if !errors.Is(err, boom) {
		t.Errorf("expected chain to return the inner error, got %v", err)
	}
	if after {
		t.Error("expected plans after a failure not to run")
	}
}

func TestChainHonorsEarlyStop(t *testing.T) {
	p := plan.Chain(plan.AbsSet(obj("a"), 1), plan.AbsSet(obj("b"), 1), plan.AbsSet(obj("c"), 1))
	seen := 0
	err := p(func(plan.Msg) bool {
		seen++
		return seen < 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if seen != 2 {
		t.Errorf("expected iteration to stop after 2 messages, saw %d", seen)
	}
}

func TestOnceIsSinglePass(t *testing.T) {
	p := plan.Once(plan.AbsSet(obj("sh"), 1))
	if _, err := plan.Messages(p); err != nil {
		t.Fatalf("first pass failed: %v", err)
	}
	if _, err := plan.Messages(p); !errors.Is(err, plan.ErrExhausted) {
		t.Errorf("expected ErrExhausted on second pass, got %v", err)
	}
}

func TestAnnotateOverridesRunMetadata(t *testing.T) {
	orig := map[string]interface{}{"sp_type": "ct"}
	p := plan.Annotate(plan.Count([]plan.Named{obj("pe1c")}, 1, orig), map[string]interface{}{"dark_frame": true, "sp_type": "dark"})
	msgs, err := plan.Messages(p)
	if err != nil {
		t.Fatal(err)
	}
	kw := msgs[0].Kwargs
	if kw["dark_frame"] != true || kw["sp_type"] != "dark" {
		t.Errorf("expected annotated metadata, got %v", kw)
	}
	if orig["sp_type"] != "ct" {
		t.Errorf("caller metadata was modified: %v", orig)
	}
}

func TestSummarizeQuotesEveryRead(t *testing.T) {
	p := plan.Count([]plan.Named{obj("pe1c"), obj("temp")}, 1, nil)
	s, err := plan.Summarize(p)
	if err != nil {
		t.Fatal(err)
	}
	want := "  Read ['pe1c', 'temp']"
	if !strings.Contains(s, want) {
		t.Errorf("expected %q in summary, got\n%s", want, s)
	}
}
