package token

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ids := []uuid.UUID{
		uuid.Nil,
		uuid.MustParse("00000000-0000-0000-0000-000000000001"),
		uuid.MustParse("ffffffff-ffff-ffff-ffff-ffffffffffff"),
	}
	for i := 0; i < 64; i++ {
		ids = append(ids, uuid.New())
	}
	for _, id := range ids {
		text := Encode(id)
		got, err := Decode(text)
		if err != nil {
			t.Fatalf("Decode(%q): %v", text, err)
		}
		if got != id {
			t.Fatalf("round trip mismatch: want %s, got %s", id, got)
		}
	}
}

func TestEncodeUsesBase58Alphabet(t *testing.T) {
	const alphabet = "123456789ABCDEFGHJKLMNPQRSTUVWXYZabcdefghijkmnopqrstuvwxyz"
	text := Encode(uuid.New())
	for _, r := range text {
		if !strings.ContainsRune(alphabet, r) {
			t.Fatalf("unexpected rune %q in %q", r, text)
		}
	}
}

func TestDecodeRejectsForeignCharacters(t *testing.T) {
	valid := Encode(uuid.New())
	for _, bad := range []string{"0", "O", "I", "l", "+", "/", "="} {
		text := valid[:len(valid)-1] + bad
		if _, err := Decode(text); !errors.Is(err, ErrMalformed) {
			t.Fatalf("Decode(%q) = %v, want ErrMalformed", text, err)
		}
	}
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	cases := map[string]string{
		"empty":   "",
		"short":   base58.Encode([]byte{1, 2, 3}),
		"fifteen": base58.Encode(make([]byte, 15)),
		"long":    base58.Encode(append(make([]byte, 16), 0x42)),
	}
	for name, text := range cases {
		if _, err := Decode(text); !errors.Is(err, ErrMalformed) {
			t.Fatalf("%s: Decode(%q) = %v, want ErrMalformed", name, text, err)
		}
	}
}
