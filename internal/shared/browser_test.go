package shared

import (
	"errors"
	"slices"
	"testing"
)

func TestBrowserCommand(t *testing.T) {
	const url = "https://accounts.spotify.com/authorize?client_id=abc&state=xyz"

	tc := []struct {
		name string
		goos string
		want []string
	}{
		{name: "macOS", goos: "darwin", want: []string{"open", url}},
		{name: "linux", goos: "linux", want: []string{"xdg-open", url}},
		{name: "windows keeps the query intact", goos: "windows", want: []string{"rundll32", "url.dll,FileProtocolHandler", url}},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("BROWSER", "")
			cmd, err := browserCommand(tt.goos, url)
			if err != nil {
				t.Fatalf("browserCommand() error = %v", err)
			}
			if !slices.Equal(cmd.Args, tt.want) {
				t.Errorf("Args = %q, want %q", cmd.Args, tt.want)
			}
		})
	}

	t.Run("BROWSER overrides the platform default", func(t *testing.T) {
		t.Setenv("BROWSER", "firefox")
		cmd, err := browserCommand("linux", url)
		if err != nil {
			t.Fatalf("browserCommand() error = %v", err)
		}
		if !slices.Equal(cmd.Args, []string{"firefox", url}) {
			t.Errorf("Args = %q", cmd.Args)
		}
	})

	t.Run("unsupported platform", func(t *testing.T) {
		t.Setenv("BROWSER", "")
		if _, err := browserCommand("plan9", url); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}
