package hashing

import "testing"

func TestBucketDeterministic(t *testing.T) {
	a := Bucket("flag-a", "user-1")
	b := Bucket("flag-a", "user-1")
	if a != b {
		t.Fatalf("bucket not deterministic: %d != %d", a, b)
	}
}

func TestBucketRange(t *testing.T) {
	for i := 0; i < 500; i++ {
		b := Bucket("salt", string(rune('a'+i%26))+string(rune(i)))
		if b < 0 || b >= 100 {
			t.Fatalf("bucket %d out of range", b)
		}
	}
}

func TestBucketDistinctSubjectsDiverge(t *testing.T) {
	if Bucket("checkout", "alice") == Bucket("checkout", "bob") {
		t.Skip("low-probability bucket collision between fixture subjects")
	}
}

func TestBucketIndependentAcrossSalts(t *testing.T) {
	same := true
	for i := 0; i < 50; i++ {
		subject := string(rune('a' + i%26))
		if Bucket("salt-1", subject) != Bucket("salt-2", subject) {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected different salts to diverge across subjects")
	}
}
