package pool

import "testing"

func TestParseSASLMechanisms(t *testing.T) {
	data := append([]byte("SCRAM-SHA-256\x00SCRAM-SHA-256-PLUS\x00"), 0)
	mechs := parseSASLMechanisms(data)
	if len(mechs) != 2 || mechs[0] != "SCRAM-SHA-256" || mechs[1] != "SCRAM-SHA-256-PLUS" {
		t.Fatalf("parseSASLMechanisms() = %v", mechs)
	}
	if !containsMechanism(mechs, "SCRAM-SHA-256") {
		t.Error("expected SCRAM-SHA-256 to be present")
	}
}

func TestParseServerFirst(t *testing.T) {
	nonce, salt, iterations, err := parseServerFirst("r=abc123,s=c2FsdA==,i=4096")
	if err != nil {
		t.Fatalf("parseServerFirst: %v", err)
	}
	if nonce != "abc123" || string(salt) != "salt" || iterations != 4096 {
		t.Errorf("got nonce=%q salt=%q iterations=%d", nonce, salt, iterations)
	}
}

func TestParseServerFirstIncomplete(t *testing.T) {
	if _, _, _, err := parseServerFirst("r=abc123"); err == nil {
		t.Fatal("expected error for incomplete server-first-message")
	}
}

func TestSaslEscapeUsername(t *testing.T) {
	if got := saslEscapeUsername("a=b,c"); got != "a=3Db=2Cc" {
		t.Errorf("saslEscapeUsername() = %q", got)
	}
}

func TestXorBytes(t *testing.T) {
	got := xorBytes([]byte{0xff, 0x00}, []byte{0x0f, 0xff})
	want := []byte{0xf0, 0xff}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("xorBytes() = %x, want %x", got, want)
		}
	}
}
