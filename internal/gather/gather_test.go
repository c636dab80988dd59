package gather

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

type stubGatherer struct {
	name string
	err  error
	ran  *[]string
}

func (s stubGatherer) Name() string { return s.name }

func (s stubGatherer) Run(context.Context) error {
	*s.ran = append(*s.ran, s.name)
	return s.err
}

func TestRunAllStopsAtFirstError(t *testing.T) {
	var ran []string
	boom := errors.New("boom")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	err := RunAll(context.Background(), logger,
		stubGatherer{name: "a", ran: &ran},
		stubGatherer{name: "b", err: boom, ran: &ran},
		stubGatherer{name: "c", ran: &ran},
	)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if len(ran) != 2 || ran[0] != "a" || ran[1] != "b" {
		t.Errorf("ran = %v, want [a b]", ran)
	}
}
