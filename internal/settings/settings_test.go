package settings

import (
	"testing"
)

func TestParseNodes(t *testing.T) {
	raw := []byte(`[
		{
			"id": 1,
			"name": "Germany",
			"url": "https://de1.panel.test",
			"port": 2053,
			"secret_path": "secret",
			"username": "admin",
			"password": "pass",
			"inbound_id": 3,
			"public_protocol": "https",
			"public_host": "de1.vpn.test",
			"public_port": 443,
			"sub_path_prefix": "sub",
			"max_clients": 100,
			"priority": 1,
			"exclude_from_auto": false,
			"default_limit_ip": 2
		},
		{"id": 2, "name": "Backup", "exclude_from_auto": true}
	]`)

	nodes, err := ParseNodes(raw)
	if err != nil {
		t.Fatalf("ParseNodes: %v", err)
	}
	if len(nodes) != 2 {
		t.Fatalf("len = %d, want 2", len(nodes))
	}

	n := nodes[0]
	if n.ID != 1 || n.Name != "Germany" || n.InboundID != 3 {
		t.Errorf("unexpected node %+v", n)
	}
	if n.MaxClients != 100 || n.Priority != 1 || n.DefaultLimitIP != 2 {
		t.Errorf("unexpected node knobs %+v", n)
	}
	if !nodes[1].ExcludeFromAuto {
		t.Error("exclude_from_auto not decoded")
	}
}

func TestParseNodesEmpty(t *testing.T) {
	nodes, err := ParseNodes(nil)
	if err != nil {
		t.Fatalf("ParseNodes(nil): %v", err)
	}
	if nodes != nil {
		t.Errorf("nodes = %v, want nil", nodes)
	}
}

func TestParseNodesInvalid(t *testing.T) {
	if _, err := ParseNodes([]byte(`{not json`)); err == nil {
		t.Fatal("expected error for invalid JSON")
	}
}

func TestAPIBase(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want string
	}{
		{
			name: "full",
			node: Node{URL: "https://panel.test", Port: 2053, SecretPath: "secret"},
			want: "https://panel.test:2053/secret",
		},
		{
			name: "scheme added",
			node: Node{URL: "panel.test", Port: 2053},
			want: "https://panel.test:2053",
		},
		{
			name: "secret path slashes trimmed",
			node: Node{URL: "http://panel.test", Port: 80, SecretPath: "/a/b/"},
			want: "http://panel.test:80/a/b",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.node.APIBase(); got != tt.want {
				t.Errorf("APIBase = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCoerceInt(t *testing.T) {
	if got := coerceInt("42", 0); got != 42 {
		t.Errorf("got %d", got)
	}
	if got := coerceInt(" 7 ", 0); got != 7 {
		t.Errorf("whitespace: got %d", got)
	}
	if got := coerceInt("", 3); got != 3 {
		t.Errorf("empty fallback: got %d", got)
	}
	if got := coerceInt("abc", 3); got != 3 {
		t.Errorf("garbage fallback: got %d", got)
	}
}

func TestCoerceBool(t *testing.T) {
	for _, v := range []string{"true", "1", "yes", "Y", "T"} {
		if !coerceBool(v, false) {
			t.Errorf("coerceBool(%q) = false", v)
		}
	}
	for _, v := range []string{"false", "0", "no", "N", "F"} {
		if coerceBool(v, true) {
			t.Errorf("coerceBool(%q) = true", v)
		}
	}
	if !coerceBool("", true) {
		t.Error("empty must fall back")
	}
	if coerceBool("maybe", false) {
		t.Error("garbage must fall back")
	}
}
