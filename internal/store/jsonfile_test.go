package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

type doc struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestJSONFile_MissingFileLoadsZero(t *testing.T) {
	f, err := NewJSONFile(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatal(err)
	}
	var docs []doc
	if err := f.Load(&docs); err != nil {
		t.Fatalf("Load missing: %v", err)
	}
	if docs != nil {
		t.Errorf("docs = %v, want nil", docs)
	}
}

func TestJSONFile_UpdateRoundTrip(t *testing.T) {
	f, err := NewJSONFile(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatal(err)
	}

	err = f.Update(func(decode func(any) error) (any, error) {
		var docs []doc
		if err := decode(&docs); err != nil {
			return nil, err
		}
		return append(docs, doc{Name: "a", Count: 1}), nil
	})
	if err != nil {
		t.Fatalf("first update: %v", err)
	}

	err = f.Update(func(decode func(any) error) (any, error) {
		var docs []doc
		if err := decode(&docs); err != nil {
			return nil, err
		}
		docs[0].Count++
		return append(docs, doc{Name: "b"}), nil
	})
	if err != nil {
		t.Fatalf("second update: %v", err)
	}

	var docs []doc
	if err := f.Load(&docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 2 || docs[0].Count != 2 || docs[1].Name != "b" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestJSONFile_FailedUpdateLeavesDiskUntouched(t *testing.T) {
	f, err := NewJSONFile(filepath.Join(t.TempDir(), "data.json"))
	if err != nil {
		t.Fatal(err)
	}
	if err := f.Update(func(func(any) error) (any, error) {
		return []doc{{Name: "keep"}}, nil
	}); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	if err := f.Update(func(func(any) error) (any, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}

	var docs []doc
	if err := f.Load(&docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Name != "keep" {
		t.Errorf("docs = %+v", docs)
	}
}

func TestJSONFile_SharedDocumentAcrossHandles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.json")
	a, err := NewJSONFile(path)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewJSONFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := a.Update(func(func(any) error) (any, error) {
		return []doc{{Name: "from-a"}}, nil
	}); err != nil {
		t.Fatal(err)
	}

	var docs []doc
	if err := b.Load(&docs); err != nil {
		t.Fatal(err)
	}
	if len(docs) != 1 || docs[0].Name != "from-a" {
		t.Errorf("second handle sees %+v", docs)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file must not survive a write")
	}
}
