package discovery

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"go.uber.org/multierr"
)

// memRegistry is an ordered in-memory Registry.
type memRegistry struct {
	urls []string
}

func (r *memRegistry) URLs() []string {
	return append([]string(nil), r.urls...)
}

func (r *memRegistry) AddEndpoint(url string) bool {
	for _, u := range r.urls {
		if u == url {
			return false
		}
	}
	r.urls = append(r.urls, url)
	return true
}

func (r *memRegistry) RemoveEndpoint(url string) bool {
	for i, u := range r.urls {
		if u == url {
			r.urls = append(r.urls[:i], r.urls[i+1:]...)
			return true
		}
	}
	return false
}

type failingSource struct{ err error }

func (f failingSource) Endpoints(context.Context) ([]string, error) {
	return nil, f.err
}

func TestSyncer_Sync(t *testing.T) {
	errRedis := errors.New("redis: connection refused")

	tests := []struct {
		name        string
		initial     []string
		sources     []Source
		want        []string
		wantAdded   []string
		wantRemoved []string
		wantErr     bool
	}{
		{
			name:      "adds new endpoints",
			initial:   []string{"http://a"},
			sources:   []Source{StaticSource{"http://a"}, StaticSource{"http://b", "http://c/"}},
			want:      []string{"http://a", "http://b", "http://c"},
			wantAdded: []string{"http://b", "http://c"},
		},
		{
			name:        "removes vanished endpoints",
			initial:     []string{"http://a", "http://b"},
			sources:     []Source{StaticSource{"http://a"}},
			want:        []string{"http://a"},
			wantRemoved: []string{"http://b"},
		},
		{
			name:      "failing source never shrinks",
			initial:   []string{"http://a", "http://b"},
			sources:   []Source{StaticSource{"http://a", "http://c"}, failingSource{errRedis}},
			want:      []string{"http://a", "http://b", "http://c"},
			wantAdded: []string{"http://c"},
			wantErr:   true,
		},
		{
			name:    "all sources failing",
			initial: []string{"http://a"},
			sources: []Source{failingSource{errRedis}},
			want:    []string{"http://a"},
			wantErr: true,
		},
		{
			name:    "empty union keeps registry",
			initial: []string{"http://a"},
			sources: []Source{StaticSource{}, StaticSource{" "}},
			want:    []string{"http://a"},
		},
		{
			name:    "no change",
			initial: []string{"http://a"},
			sources: []Source{StaticSource{"http://a"}},
			want:    []string{"http://a"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := &memRegistry{urls: append([]string(nil), tt.initial...)}
			s := NewSyncer(reg, nil, tt.sources...)

			diff, err := s.Sync(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, errRedis) {
				t.Errorf("err = %v, want wrapped redis error", err)
			}
			if !reflect.DeepEqual(reg.urls, tt.want) {
				t.Errorf("registry = %v, want %v", reg.urls, tt.want)
			}
			if !reflect.DeepEqual(diff.Added, tt.wantAdded) {
				t.Errorf("added = %v, want %v", diff.Added, tt.wantAdded)
			}
			if !reflect.DeepEqual(diff.Removed, tt.wantRemoved) {
				t.Errorf("removed = %v, want %v", diff.Removed, tt.wantRemoved)
			}
		})
	}
}

func TestSyncer_CombinesErrors(t *testing.T) {
	reg := &memRegistry{urls: []string{"http://a"}}
	s := NewSyncer(reg, nil,
		failingSource{errors.New("first")},
		failingSource{errors.New("second")},
		StaticSource{"http://a"},
	)

	err := s.Run(context.Background())
	if got := len(multierr.Errors(err)); got != 2 {
		t.Fatalf("got %d errors, want 2: %v", got, err)
	}
	if !strings.Contains(err.Error(), "first") || !strings.Contains(err.Error(), "second") {
		t.Errorf("err = %v", err)
	}
}

func TestStaticSourceCopies(t *testing.T) {
	src := StaticSource{"http://a"}
	urls, _ := src.Endpoints(context.Background())
	urls[0] = "http://changed"
	if src[0] != "http://a" {
		t.Error("Endpoints exposed the backing slice")
	}
}
