package basedfeed

import "testing"

func TestContentIDFromURI(t *testing.T) {
	cases := map[string]string{
		"https://ipfs.io/ipfs/QmHash":                   "QmHash",
		"ipfs://QmHash":                                 "QmHash",
		"ipfs://ipfs/QmHash":                            "QmHash",
		"https://gateway.pinata.cloud/ipfs/QmHash/meta": "QmHash/meta",
		"QmBare":                                        "QmBare",
	}
	for in, want := range cases {
		if got := ContentIDFromURI(in); got != want {
			t.Errorf("ContentIDFromURI(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestComposeGatewayURL(t *testing.T) {
	if got := ComposeGatewayURL("http://localhost:8080/ipfs", "QmHash"); got != "http://localhost:8080/ipfs/QmHash" {
		t.Fatalf("unexpected url %s", got)
	}
	if got := ComposeGatewayURL("", "QmHash"); got != DefaultGateway+"QmHash" {
		t.Fatalf("unexpected default url %s", got)
	}
}

func TestParseAddress(t *testing.T) {
	addr, err := ParseAddress("0x00000000000000000000000000000000000000aa")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if addr[19] != 0xaa {
		t.Fatalf("unexpected address %s", addr.Hex())
	}
	if _, err := ParseAddress("not-an-address"); err == nil {
		t.Fatalf("expected error for invalid address")
	}
}
