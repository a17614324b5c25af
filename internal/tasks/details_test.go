package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/desertthunder/crate/internal/shared"
	tu "github.com/desertthunder/crate/internal/testing"
)

func TestDetailAugmenter(t *testing.T) {
	track := tu.NewTrack("t1", "Alison", "Slowdive")
	track.ReleaseDate = "1993-05-17"
	track.Label = "Creation"

	t.Run("normalizes the response", func(t *testing.T) {
		chat := &tu.FakeChat{Responses: []string{"```json\n" + `{
			"composers":["Neil Halstead"," neil halstead",""],
			"producers":["Ed Buller"],
			"sub_genres":["Dream Pop","Shoegaze","dream pop"],
			"instrumentation":"Reverb-heavy guitars, drum machine",
			"mood":{"moods":["Hazy"],"atmosphere":" Submerged ","tempo":"Mid-tempo"},
			"context":"Opening track of Souvlaki.",
			"confidence":"studio unknown"
		}` + "\n```"}}

		got, err := NewDetailAugmenter(chat).Augment(context.Background(), track)
		if err != nil {
			t.Fatalf("Augment() error = %v", err)
		}
		if !slices.Equal(got.Composers, []string{"Neil Halstead"}) || !slices.Equal(got.Producers, []string{"Ed Buller"}) {
			t.Errorf("unexpected credits %+v", got)
		}
		if !slices.Equal(got.SubGenres, []string{"dream pop", "shoegaze"}) {
			t.Errorf("SubGenres = %v", got.SubGenres)
		}
		if !slices.Equal(got.Instrumentation, []string{"reverb-heavy guitars", "drum machine"}) {
			t.Errorf("string instrumentation not split: %v", got.Instrumentation)
		}
		if !slices.Equal(got.Moods, []string{"hazy"}) || got.Atmosphere != "Submerged" || got.Tempo != "mid-tempo" {
			t.Errorf("unexpected mood %+v", got)
		}
		if got.Context == "" || got.Confidence != "studio unknown" {
			t.Errorf("unexpected notes %+v", got)
		}

		for _, want := range []string{`"Alison" by Slowdive`, "Released: 1993-05-17", "Label: Creation"} {
			if !strings.Contains(chat.Users[0], want) {
				t.Errorf("prompt missing %q: %q", want, chat.Users[0])
			}
		}
	})

	t.Run("unusable responses", func(t *testing.T) {
		tests := []struct {
			name     string
			response string
		}{
			{name: "prose", response: "Alison was produced by Ed Buller."},
			{name: "all empty", response: `{"composers":[],"producers":[],"mood":{"moods":[]}}`},
			{name: "confidence only", response: `{"confidence":"I do not know this song"}`},
			{name: "wrong types", response: `{"producers":{"name":"Ed Buller"}}`},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				chat := &tu.FakeChat{Responses: []string{tt.response}}
				if _, err := NewDetailAugmenter(chat).Augment(context.Background(), track); !errors.Is(err, shared.ErrModel) {
					t.Errorf("expected ErrModel, got %v", err)
				}
			})
		}
	})

	t.Run("model errors pass through", func(t *testing.T) {
		chat := &tu.FakeChat{Errs: []error{&shared.RateLimitError{Service: "openai"}}}
		if _, err := NewDetailAugmenter(chat).Augment(context.Background(), track); !errors.Is(err, shared.ErrRateLimited) {
			t.Errorf("expected ErrRateLimited, got %v", err)
		}
	})
}

func TestTermList(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{raw: `["a","b"]`, want: []string{"a", "b"}},
		{raw: `"a, b"`, want: []string{"a", " b"}},
		{raw: `null`},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			var l termList
			if err := json.Unmarshal([]byte(tt.raw), &l); err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if !slices.Equal([]string(l), tt.want) {
				t.Errorf("got %q, want %q", l, tt.want)
			}
		})
	}
}
