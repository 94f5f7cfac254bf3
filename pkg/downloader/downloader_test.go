package downloader

import (
	"context"
	"reflect"
	"testing"

	"github.com/kadirpekel/docpipe/pkg/config"
)

func newRunner(args ...string) *Runner {
	return New(&config.DownloaderConfig{Command: "download.sh", Args: args})
}

func TestExpandFillsPlaceholders(t *testing.T) {
	r := newRunner("--data-dir", "{data_dir}", "--num-records", "{num_records}", "--agency", "{agency}", "--verbose")
	got := r.expand(Params{DataDir: "/data/eval", NumRecords: 25, Agency: "unicef"})

	want := []string{"--data-dir", "/data/eval", "--num-records", "25", "--agency", "unicef", "--verbose"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expand() = %v, want %v", got, want)
	}
}

func TestExpandDropsUnsetFlagPairs(t *testing.T) {
	r := newRunner("--year", "{year}", "--from-year", "{from_year}", "--agency", "{agency}", "--report", "{report}")
	got := r.expand(Params{Agency: "undp"})

	want := []string{"--agency", "undp"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expand() = %v, want %v", got, want)
	}
}

func TestExpandDropsBareUnsetPlaceholder(t *testing.T) {
	r := newRunner("{doc_id}", "--agency", "{agency}")
	got := r.expand(Params{Agency: "wfp"})

	want := []string{"--agency", "wfp"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expand() = %v, want %v", got, want)
	}
}

func TestExpandDropsUnknownPlaceholder(t *testing.T) {
	r := newRunner("--mystery", "{bogus}", "--data-dir", "{data_dir}")
	got := r.expand(Params{DataDir: "/data/eval"})

	want := []string{"--data-dir", "/data/eval"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expand() = %v, want %v", got, want)
	}
}

func TestExpandLeavesLiteralsAlone(t *testing.T) {
	r := newRunner("sync", "--mode", "full", "{data_dir}")
	got := r.expand(Params{DataDir: "/data/eval"})

	want := []string{"sync", "--mode", "full", "/data/eval"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("expand() = %v, want %v", got, want)
	}
}

func TestRunReportsExitStatus(t *testing.T) {
	ok := New(&config.DownloaderConfig{Command: "true"})
	if err := ok.Run(context.Background(), Params{}); err != nil {
		t.Errorf("Run(true) error = %v", err)
	}

	bad := New(&config.DownloaderConfig{Command: "false"})
	if err := bad.Run(context.Background(), Params{}); err == nil {
		t.Error("Run(false) returned nil, want exit error")
	}
}
