package document

import "testing"

func TestStatusIsValid(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusDownloaded, true},
		{StatusParsing, true},
		{StatusIndexed, true},
		{StatusStopped, true},
		{StatusDownloadError, true},
		{Status(""), false},
		{Status("done"), false},
		{Status("Parsed"), false},
	}

	for _, tt := range tests {
		if got := tt.status.IsValid(); got != tt.want {
			t.Errorf("IsValid(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusIsTransient(t *testing.T) {
	transient := []Status{StatusParsing, StatusSummarizing, StatusTagging, StatusIndexing}
	for _, s := range transient {
		if !s.IsTransient() {
			t.Errorf("expected %q to be transient", s)
		}
	}

	for _, s := range []Status{StatusDownloaded, StatusParsed, StatusIndexed, StatusStopped} {
		if s.IsTransient() {
			t.Errorf("expected %q not to be transient", s)
		}
	}
}

func TestStageTransitions(t *testing.T) {
	tests := []struct {
		stage     Stage
		from      Status
		runnable  bool
		transient Status
		success   Status
		failure   Status
	}{
		{StageParse, StatusDownloaded, true, StatusParsing, StatusParsed, StatusParseFailed},
		{StageParse, StatusParsed, false, StatusParsing, StatusParsed, StatusParseFailed},
		{StageSummarize, StatusParsed, true, StatusSummarizing, StatusSummarized, StatusSummarizeFailed},
		{StageSummarize, StatusDownloaded, true, StatusSummarizing, StatusSummarized, StatusSummarizeFailed},
		{StageTag, StatusSummarized, true, StatusTagging, StatusTagged, ""},
		{StageTag, StatusTagged, false, StatusTagging, StatusTagged, ""},
		{StageIndex, StatusTagged, true, StatusIndexing, StatusIndexed, StatusIndexFailed},
		{StageIndex, StatusDownloaded, true, StatusIndexing, StatusIndexed, StatusIndexFailed},
		{StageIndex, StatusStopped, false, StatusIndexing, StatusIndexed, StatusIndexFailed},
	}

	for _, tt := range tests {
		tr := tt.stage.Transition()
		if got := tt.stage.RunnableFrom(tt.from); got != tt.runnable {
			t.Errorf("%s.RunnableFrom(%s) = %v, want %v", tt.stage, tt.from, got, tt.runnable)
		}
		if tr.Transient != tt.transient {
			t.Errorf("%s transient = %q, want %q", tt.stage, tr.Transient, tt.transient)
		}
		if tr.Success != tt.success {
			t.Errorf("%s success = %q, want %q", tt.stage, tr.Success, tt.success)
		}
		if tr.Failure != tt.failure {
			t.Errorf("%s failure = %q, want %q", tt.stage, tr.Failure, tt.failure)
		}
	}
}

func TestStageSourceStatus(t *testing.T) {
	tests := []struct {
		stage Stage
		want  Status
	}{
		{StageParse, StatusDownloaded},
		{StageSummarize, StatusParsed},
		{StageTag, StatusSummarized},
		{StageIndex, StatusTagged},
	}

	for _, tt := range tests {
		if got := tt.stage.SourceStatus(); got != tt.want {
			t.Errorf("%s.SourceStatus() = %q, want %q", tt.stage, got, tt.want)
		}
	}
}
