package classify

import (
	"context"
	"errors"
	"testing"
)

func TestParseDecision(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    Decision
		wantErr bool
	}{
		{
			name: "clean json",
			raw:  `{"is_policy": true, "title": "Vacation Policy"}`,
			want: Decision{IsPolicy: true, Title: "Vacation Policy"},
		},
		{
			name: "negative",
			raw:  `{"is_policy": false, "title": ""}`,
			want: Decision{},
		},
		{
			name: "fenced json",
			raw:  "```json\n{\"is_policy\": true, \"title\": \"Code of Conduct\"}\n```",
			want: Decision{IsPolicy: true, Title: "Code of Conduct"},
		},
		{
			name: "prose around json",
			raw:  `Sure! Here is my answer: {"is_policy": false, "title": ""} Hope that helps.`,
			want: Decision{},
		},
		{
			name:    "no json at all",
			raw:     `this page is definitely a policy`,
			wantErr: true,
		},
		{
			name:    "positive without title",
			raw:     `{"is_policy": true, "title": "  "}`,
			wantErr: true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseDecision(tc.raw)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseDecision: %v", err)
			}
			if got != tc.want {
				t.Errorf("got %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestStubKeywordMatch(t *testing.T) {
	s := &Stub{Keywords: []string{"policy"}}

	d, err := s.Classify(context.Background(), "Vacation Policy\nAll employees accrue days.")
	if err != nil {
		t.Fatal(err)
	}
	if !d.IsPolicy || d.Title != "Vacation Policy" {
		t.Errorf("decision: %+v", d)
	}

	d, err = s.Classify(context.Background(), "Cafeteria menu for Tuesday")
	if err != nil {
		t.Fatal(err)
	}
	if d.IsPolicy {
		t.Errorf("false positive: %+v", d)
	}
}

func TestStubServiceFailure(t *testing.T) {
	s := &Stub{Err: ErrUnavailable}
	_, err := s.Classify(context.Background(), "anything")
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
