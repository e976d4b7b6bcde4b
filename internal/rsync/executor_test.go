package rsync

import (
	"testing"
)

func TestParseProgressLine(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantNil   bool
		wantBytes uint64
		wantPct   float64
		wantRate  string
		wantETA   string
	}{
		// Standard progress2 lines
		{
			name:      "mid transfer",
			input:     "1,234,567  45%   12.34MB/s    0:01:23",
			wantBytes: 1234567,
			wantPct:   45,
			wantRate:  "12.34MB/s",
			wantETA:   "0:01:23",
		},
		{
			name:      "with xfr suffix",
			input:     "32,768  0%  31.25kB/s  0:05:21 (xfr#1, to-chk=202/204)",
			wantBytes: 32768,
			wantPct:   0,
			wantRate:  "31.25kB/s",
			wantETA:   "0:05:21",
		},
		{
			name:      "complete",
			input:     "104,857,600 100%  98.52MB/s    0:00:01",
			wantBytes: 104857600,
			wantPct:   100,
			wantRate:  "98.52MB/s",
			wantETA:   "0:00:01",
		},
		{
			name:      "small transfer no commas",
			input:     "512  12%    0.50kB/s    0:00:09",
			wantBytes: 512,
			wantPct:   12,
			wantRate:  "0.50kB/s",
		},
		{
			name:      "no eta",
			input:     "1,024  50%  1.00MB/s",
			wantBytes: 1024,
			wantPct:   50,
			wantRate:  "1.00MB/s",
			wantETA:   "",
		},

		// Non-progress lines
		{name: "empty line", input: "", wantNil: true},
		{name: "file name line", input: "photos/2024/img_0001.jpg", wantNil: true},
		{name: "stats line", input: "sent 1,234 bytes  received 35 bytes", wantNil: true},
		{name: "itemized line", input: ">f+++++++++ file.txt", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseProgressLine(tt.input)

			if tt.wantNil {
				if got != nil {
					t.Errorf("parseProgressLine(%q) = %+v, want nil", tt.input, got)
				}
				return
			}

			if got == nil {
				t.Fatalf("parseProgressLine(%q) = nil, want non-nil", tt.input)
			}
			if got.BytesTransferred != tt.wantBytes {
				t.Errorf("BytesTransferred = %d, want %d", got.BytesTransferred, tt.wantBytes)
			}
			if got.Percent != tt.wantPct {
				t.Errorf("Percent = %f, want %f", got.Percent, tt.wantPct)
			}
			if got.Rate != tt.wantRate {
				t.Errorf("Rate = %q, want %q", got.Rate, tt.wantRate)
			}
			if got.ETA != tt.wantETA {
				t.Errorf("ETA = %q, want %q", got.ETA, tt.wantETA)
			}
		})
	}
}

func TestParseItemizedLine(t *testing.T) {
	tests := []struct {
		name       string
		input      string
		wantNil    bool
		wantPath   string
		wantAction DryRunAction
		wantIsDir  bool
	}{
		{
			name:       "new file",
			input:      ">f+++++++++ photos/img_0001.jpg",
			wantPath:   "photos/img_0001.jpg",
			wantAction: ActionTransfer,
		},
		{
			name:       "updated file",
			input:      ">f.st...... notes/todo.txt",
			wantPath:   "notes/todo.txt",
			wantAction: ActionUpdate,
		},
		{
			name:       "new directory",
			input:      "cd+++++++++ photos/2024/",
			wantPath:   "photos/2024",
			wantAction: ActionTransfer,
			wantIsDir:  true,
		},
		{
			name:       "unchanged directory attrs",
			input:      ".d..t...... music/",
			wantPath:   "music",
			wantAction: ActionUpdate,
			wantIsDir:  true,
		},
		{
			name:       "deletion",
			input:      "*deleting   old/stale.bin",
			wantPath:   "old/stale.bin",
			wantAction: ActionDelete,
		},
		{
			name:       "local change",
			input:      "<f+++++++++ pulled/file.dat",
			wantPath:   "pulled/file.dat",
			wantAction: ActionTransfer,
		},

		// Non-itemized lines
		{name: "empty", input: "", wantNil: true},
		{name: "too short", input: ">f+", wantNil: true},
		{name: "stats line", input: "sent 812 bytes  received 35 bytes", wantNil: true},
		{name: "plain text", input: "building file list ... done", wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseItemizedLine(tt.input)

			if tt.wantNil {
				if got != nil {
					t.Errorf("parseItemizedLine(%q) = %+v, want nil", tt.input, got)
				}
				return
			}

			if got == nil {
				t.Fatalf("parseItemizedLine(%q) = nil, want non-nil", tt.input)
			}
			if got.Path != tt.wantPath {
				t.Errorf("Path = %q, want %q", got.Path, tt.wantPath)
			}
			if got.Action != tt.wantAction {
				t.Errorf("Action = %q, want %q", got.Action, tt.wantAction)
			}
			if got.IsDir != tt.wantIsDir {
				t.Errorf("IsDir = %v, want %v", got.IsDir, tt.wantIsDir)
			}
		})
	}
}

func TestIsErrorLine(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{`rsync: [sender] send_files failed to open "/x": Permission denied (13)`, true},
		{"rsync error: some files/attrs were not transferred (code 23)", true},
		{"1,234,567  45%   12.34MB/s    0:01:23", false},
		{"photos/img.jpg", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := isErrorLine(tt.input); got != tt.want {
			t.Errorf("isErrorLine(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
