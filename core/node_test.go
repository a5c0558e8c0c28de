package core

import "testing"

func TestNodeIdString(t *testing.T) {
	id := NodeId(42)
	if got := id.String(); got != "42" {
		t.Errorf("String() = %s, want 42", got)
	}
}

func TestNodeKindString(t *testing.T) {
	tests := []struct {
		kind NodeKind
		want string
	}{
		{KindUnknown, "unknown"},
		{KindDrone, "drone"},
		{KindClient, "client"},
		{KindServer, "server"},
		{KindServerChat, "server:chat"},
		{KindServerText, "server:text"},
		{KindServerMedia, "server:media"},
	}
	for _, tt := range tests {
		if got := tt.kind.String(); got != tt.want {
			t.Errorf("NodeKind(%d).String() = %s, want %s", tt.kind, got, tt.want)
		}
	}
}

func TestNodeKindIsServer(t *testing.T) {
	for _, k := range []NodeKind{KindServer, KindServerChat, KindServerText, KindServerMedia} {
		if !k.IsServer() {
			t.Errorf("%v.IsServer() = false, want true", k)
		}
	}
	for _, k := range []NodeKind{KindUnknown, KindDrone, KindClient} {
		if k.IsServer() {
			t.Errorf("%v.IsServer() = true, want false", k)
		}
	}
}

func TestNodeKindIsSpecializedServer(t *testing.T) {
	if KindServer.IsSpecializedServer() {
		t.Error("KindServer.IsSpecializedServer() = true, want false (not yet specialized)")
	}
	for _, k := range []NodeKind{KindServerChat, KindServerText, KindServerMedia} {
		if !k.IsSpecializedServer() {
			t.Errorf("%v.IsSpecializedServer() = false, want true", k)
		}
	}
}

func TestNodeKindIsDrone(t *testing.T) {
	if !KindDrone.IsDrone() {
		t.Error("KindDrone.IsDrone() = false, want true")
	}
	if KindClient.IsDrone() {
		t.Error("KindClient.IsDrone() = true, want false")
	}
}
