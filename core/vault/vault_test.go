package vault

import (
	"bytes"
	"errors"
	"testing"
)

func newTestVault(t *testing.T) *Vault {
	t.Helper()
	v, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("new vault: %v", err)
	}
	return v
}

func TestPutGet_RoundTrip(t *testing.T) {
	v := newTestVault(t)
	data := []byte("originalinnehåll")

	ref, err := v.Put("p1", KindOriginal, data)
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := v.Get(ref)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("round trip mismatch: %q != %q", got, data)
	}
}

func TestPut_StableRef(t *testing.T) {
	v := newTestVault(t)
	data := []byte("samma bytes")

	ref1, err := v.Put("p1", KindAudio, data)
	if err != nil {
		t.Fatalf("put 1: %v", err)
	}
	ref2, err := v.Put("p1", KindAudio, data)
	if err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if ref1 != ref2 {
		t.Fatalf("refs differ for identical content: %s vs %s", ref1, ref2)
	}
}

func TestPut_RejectsUnknownKind(t *testing.T) {
	v := newTestVault(t)
	if _, err := v.Put("p1", Kind("secrets"), []byte("x")); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestGet_Missing(t *testing.T) {
	v := newTestVault(t)
	ref := Ref("p1/original/" + string(bytes.Repeat([]byte("a"), 64)))
	if _, err := v.Get(ref); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
}

func TestRef_Validation(t *testing.T) {
	v := newTestVault(t)
	bad := []Ref{
		"p1/original",
		"../p1/original/" + Ref(bytes.Repeat([]byte("a"), 64)),
		"p1/evil/" + Ref(bytes.Repeat([]byte("a"), 64)),
		"p1/original/shorthash",
	}
	for _, ref := range bad {
		if _, err := v.Get(ref); err == nil || errors.Is(err, ErrMissing) {
			t.Fatalf("ref %q should be rejected as malformed", ref)
		}
	}
}

func TestDelete(t *testing.T) {
	v := newTestVault(t)
	ref, err := v.Put("p1", KindImage, []byte("bild"))
	if err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := v.Delete(ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v.Exists(ref) {
		t.Fatal("blob still exists after delete")
	}
	if err := v.Delete(ref); !errors.Is(err, ErrMissing) {
		t.Fatalf("second delete should report missing, got %v", err)
	}
}

func TestListOrphans(t *testing.T) {
	v := newTestVault(t)

	orphans, err := v.ListOrphans("tom")
	if err != nil {
		t.Fatalf("list orphans on unknown project: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected empty set, got %v", orphans)
	}

	ref1, _ := v.Put("p1", KindOriginal, []byte("ett"))
	ref2, _ := v.Put("p1", KindAudio, []byte("två"))
	_, _ = v.Put("p2", KindOriginal, []byte("annan"))

	orphans, err = v.ListOrphans("p1")
	if err != nil {
		t.Fatalf("list orphans: %v", err)
	}
	if len(orphans) != 2 {
		t.Fatalf("expected 2 blobs, got %v", orphans)
	}
	seen := map[Ref]bool{ref1: false, ref2: false}
	for _, r := range orphans {
		seen[r] = true
	}
	for r, ok := range seen {
		if !ok {
			t.Fatalf("blob %s not listed", r)
		}
	}
}

func TestRemoveProjectDir(t *testing.T) {
	v := newTestVault(t)
	ref, _ := v.Put("p1", KindOriginal, []byte("kvar"))

	if err := v.RemoveProjectDir("p1"); err == nil {
		t.Fatal("expected failure while blobs remain")
	}

	if err := v.Delete(ref); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := v.RemoveProjectDir("p1"); err != nil {
		t.Fatalf("remove project dir: %v", err)
	}

	orphans, err := v.ListOrphans("p1")
	if err != nil {
		t.Fatalf("list orphans: %v", err)
	}
	if len(orphans) != 0 {
		t.Fatalf("expected no orphans, got %v", orphans)
	}
}
