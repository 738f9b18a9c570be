package classifier

import (
	"fmt"
	"reflect"
	"testing"
)

// mapFS — ArtifactFS в памяти.
type mapFS map[string][]byte

func (m mapFS) Exists(name string) bool {
	_, ok := m[name]
	return ok
}

func (m mapFS) ReadFile(name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("artifact %s not found", name)
	}
	return data, nil
}

func fullModelFS() mapFS {
	return mapFS{
		artifactModel:  []byte("binary"),
		artifactVocab:  []byte(`{}`),
		artifactLabels: []byte(`["Спорт","Экономика"]`),
		artifactConfig: []byte(`{}`),
	}
}

func TestModelPresent(t *testing.T) {
	t.Parallel()

	if !ModelPresent(fullModelFS()) {
		t.Fatal("ModelPresent() = false for complete artifact set")
	}

	for _, missing := range []string{artifactModel, artifactVocab, artifactLabels, artifactConfig} {
		fs := fullModelFS()
		delete(fs, missing)
		if ModelPresent(fs) {
			t.Fatalf("ModelPresent() = true without %s", missing)
		}
	}

	// metrics.json — побочный артефакт, на присутствие модели не влияет.
	fs := fullModelFS()
	delete(fs, artifactMetrics)
	if !ModelPresent(fs) {
		t.Fatal("ModelPresent() must not require metrics.json")
	}
}

func TestKnownLabels(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		fs   mapFS
		want map[string]struct{}
	}{
		{
			name: "validLabels",
			fs:   mapFS{artifactLabels: []byte(`["Спорт","Наука и технологии"]`)},
			want: map[string]struct{}{"Спорт": {}, "Наука и технологии": {}},
		},
		{
			name: "missingFile",
			fs:   mapFS{},
			want: map[string]struct{}{},
		},
		{
			name: "corruptFile",
			fs:   mapFS{artifactLabels: []byte(`{broken`)},
			want: map[string]struct{}{},
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := KnownLabels(tc.fs); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("KnownLabels() = %#v, want %#v", got, tc.want)
			}
		})
	}
}

func TestIsValidCategory(t *testing.T) {
	t.Parallel()

	for _, c := range Categories {
		if !IsValidCategory(c) {
			t.Fatalf("IsValidCategory(%q) = false", c)
		}
	}
	for _, c := range []string{"", "Мода", "спорт"} {
		if IsValidCategory(c) {
			t.Fatalf("IsValidCategory(%q) = true", c)
		}
	}
}
