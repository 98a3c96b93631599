package xadmit

import (
	"net/http/httptest"
	"testing"
)

func TestHTTPResolver_BearerCredential(t *testing.T) {
	resolver, err := NewHTTPResolver()
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	t.Run("stable across requests", func(t *testing.T) {
		req1 := httptest.NewRequest("GET", "/api", nil)
		req1.Header.Set("Authorization", "Bearer tok-12345")
		req2 := httptest.NewRequest("POST", "/other", nil)
		req2.Header.Set("Authorization", "Bearer tok-12345")

		key1 := resolver.Resolve(req1)
		key2 := resolver.Resolve(req2)

		if key1.Scope != ScopeUser {
			t.Fatalf("scope = %v, want user", key1.Scope)
		}
		if key1 != key2 {
			t.Fatalf("same credential resolved to %v and %v", key1, key2)
		}
	})

	t.Run("credential never appears in key", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api", nil)
		req.Header.Set("Authorization", "Bearer super-secret-token")

		key := resolver.Resolve(req)
		if key.Identity == "super-secret-token" {
			t.Fatal("raw credential must not enter the key space")
		}
	})

	t.Run("scheme is case-insensitive", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api", nil)
		req.Header.Set("Authorization", "bearer tok-12345")

		if key := resolver.Resolve(req); key.Scope != ScopeUser {
			t.Fatalf("scope = %v, want user", key.Scope)
		}
	})

	t.Run("different credentials differ", func(t *testing.T) {
		reqA := httptest.NewRequest("GET", "/", nil)
		reqA.Header.Set("Authorization", "Bearer token-a")
		reqB := httptest.NewRequest("GET", "/", nil)
		reqB.Header.Set("Authorization", "Bearer token-b")

		if resolver.Resolve(reqA) == resolver.Resolve(reqB) {
			t.Fatal("distinct credentials must not collide")
		}
	})
}

func TestHTTPResolver_AddressFallback(t *testing.T) {
	resolver, err := NewHTTPResolver(WithTrustedProxies("10.0.0.0/8", "192.168.0.0/16"))
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	t.Run("remote addr without credential", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api", nil)
		req.RemoteAddr = "203.0.113.9:4412"

		key := resolver.Resolve(req)
		if key.Scope != ScopeAddress || key.Identity != "203.0.113.9" {
			t.Fatalf("key = %v, want address:203.0.113.9", key)
		}
	})

	t.Run("forwarded chain skips trusted proxies", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api", nil)
		req.RemoteAddr = "10.0.0.1:80"
		req.Header.Set("X-Forwarded-For", "10.1.2.3, 198.51.100.7, 192.168.1.1")

		key := resolver.Resolve(req)
		if key.Identity != "198.51.100.7" {
			t.Fatalf("identity = %q, want first untrusted address 198.51.100.7", key.Identity)
		}
	})

	t.Run("garbage in forwarded chain is skipped", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api", nil)
		req.RemoteAddr = "203.0.113.9:4412"
		req.Header.Set("X-Forwarded-For", "not-an-ip, 198.51.100.7")

		if key := resolver.Resolve(req); key.Identity != "198.51.100.7" {
			t.Fatalf("identity = %q, want 198.51.100.7", key.Identity)
		}
	})
}

func TestHTTPResolver_UnknownFallback(t *testing.T) {
	resolver, err := NewHTTPResolver()
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	t.Run("nil request", func(t *testing.T) {
		if key := resolver.Resolve(nil); key != UnknownKey() {
			t.Fatalf("key = %v, want unknown", key)
		}
	})

	t.Run("no identity material", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api", nil)
		req.RemoteAddr = "garbage"

		if key := resolver.Resolve(req); key != UnknownKey() {
			t.Fatalf("key = %v, want unknown", key)
		}
	})
}

func TestNewHTTPResolver_BadCIDR(t *testing.T) {
	if _, err := NewHTTPResolver(WithTrustedProxies("10.0.0.0/99")); err == nil {
		t.Fatal("expected error for invalid CIDR")
	}
}

func TestHTTPResolver_CustomTransform(t *testing.T) {
	resolver, err := NewHTTPResolver(
		WithCredentialTransform(func(string) string { return "fixed" }),
	)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer anything")

	if key := resolver.Resolve(req); key.Identity != "fixed" {
		t.Fatalf("identity = %q, want custom transform output", key.Identity)
	}
}
