package storage

import (
	"strings"
	"testing"
)

// TestSQLiteConnStringMemory tests that :memory: resolves to a shared named
// in-memory URI. Without mode=memory in the URI, the backend's connection
// pool hands each connection a private empty database.
func TestSQLiteConnStringMemory(t *testing.T) {
	conn := SQLiteConnString(":memory:", false)
	for _, want := range []string{"mode=memory", "cache=shared", "_pragma=foreign_keys(ON)"} {
		if !strings.Contains(conn, want) {
			t.Errorf("expected %q in %q", want, conn)
		}
	}
}

// TestSQLiteConnStringFilePath tests the plain path and existing-URI cases.
func TestSQLiteConnStringFilePath(t *testing.T) {
	conn := SQLiteConnString("stacktally.db", false)
	if !strings.HasPrefix(conn, "file:stacktally.db?") {
		t.Errorf("unexpected conn string %q", conn)
	}
	if !strings.Contains(conn, "_pragma=busy_timeout") {
		t.Errorf("expected busy_timeout pragma in %q", conn)
	}

	ro := SQLiteConnString("stacktally.db", true)
	if !strings.Contains(ro, "mode=ro") {
		t.Errorf("expected mode=ro in %q", ro)
	}

	// An existing URI keeps its own pragmas and gains only the missing ones.
	uri := SQLiteConnString("file:other.db?_pragma=busy_timeout(5000)", false)
	if strings.Count(uri, "_pragma=busy_timeout") != 1 {
		t.Errorf("busy_timeout duplicated in %q", uri)
	}
	if !strings.Contains(uri, "_pragma=foreign_keys(ON)") {
		t.Errorf("expected foreign_keys pragma appended in %q", uri)
	}
}
