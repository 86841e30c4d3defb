package guard

import "testing"

func TestCheckURLBlocksMetadata(t *testing.T) {
	if err := CheckURL("http://169.254.169.254/latest/meta-data/"); err == nil {
		t.Fatal("expected metadata endpoint to be blocked")
	}
}

func TestCheckURLBlocksLoopback(t *testing.T) {
	if err := CheckURL("http://127.0.0.1:8080/"); err == nil {
		t.Fatal("expected loopback to be blocked")
	}
}

func TestCheckURLBlocksRFC1918(t *testing.T) {
	for _, u := range []string{
		"http://10.0.0.5/",
		"http://172.16.0.5/",
		"http://192.168.1.5/",
	} {
		if err := CheckURL(u); err == nil {
			t.Fatalf("expected %s to be blocked", u)
		}
	}
}

func TestCheckURLBlocksFileScheme(t *testing.T) {
	if err := CheckURL("file:///etc/passwd"); err == nil {
		t.Fatal("expected file scheme to be blocked")
	}
}

func TestCheckURLAllowsPublicHTTPS(t *testing.T) {
	if err := CheckURL("https://example.com/page"); err != nil {
		t.Fatalf("expected public https to be allowed, got %v", err)
	}
}

func TestCheckURLBlocksInternalClusterHost(t *testing.T) {
	if err := CheckURL("http://api.svc.cluster.local/"); err == nil {
		t.Fatal("expected cluster-internal host to be blocked")
	}
}
