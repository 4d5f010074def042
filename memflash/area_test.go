package memflash

import (
	"bytes"
	"testing"
)

func TestArea_ReadWrite(t *testing.T) {
	a := Uniform(4, 16, 4)

	buf := []byte{1, 2, 3, 4}

	err := a.Write(16, buf)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	out := make([]byte, 4)

	err = a.Read(16, out)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if bytes.Equal(out, buf) != true {
		t.Fatalf("Read-back did not match: %v", out)
	}
}

func TestArea_Erase(t *testing.T) {
	a := Uniform(2, 8, 4)

	err := a.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	err = a.Erase(0, 8, false)
	if err != nil {
		t.Fatalf("Erase failed: %v", err)
	}

	out := make([]byte, 8)

	err = a.Read(0, out)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if a.IsErased(out) != true {
		t.Fatalf("Sector not erased: %v", out)
	}
}

func TestArea_Erase_reverse(t *testing.T) {
	a := Uniform(2, 8, 4)

	// This only checks that a reverse erase still touches both sectors
	// and leaves them erased; intermediate ordering is exercised at the
	// engine level, where it matters for crash-safety.
	err := a.Write(0, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16})
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	err = a.Erase(0, 16, true)
	if err != nil {
		t.Fatalf("Erase failed: %v", err)
	}

	out := make([]byte, 16)

	err = a.Read(0, out)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}

	if a.IsErased(out) != true {
		t.Fatalf("Area not fully erased: %v", out)
	}
}

func TestArea_Erase_notAligned(t *testing.T) {
	a := Uniform(2, 8, 4)

	err := a.Erase(4, 8, false)
	if err == nil {
		t.Fatalf("Expected an error for a non-aligned erase.")
	}
}

func TestArea_boundsCheck(t *testing.T) {
	a := Uniform(2, 8, 4)

	err := a.Read(15, make([]byte, 4))
	if err == nil {
		t.Fatalf("Expected an out-of-bounds error.")
	}
}

func TestArea_heterogeneousSectors(t *testing.T) {
	a := New([]uint32{8, 16, 8}, 4)

	if a.Size() != 32 {
		t.Fatalf("Wrong total size: (%d)", a.Size())
	}

	err := a.Erase(8, 16, false)
	if err != nil {
		t.Fatalf("Erase of the middle sector failed: %v", err)
	}
}
