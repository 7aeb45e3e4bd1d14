package redact

import (
	"testing"
)

func mustNew(t *testing.T, rules []Rule) *Redactor {
	t.Helper()
	r, err := New(rules)
	if err != nil {
		t.Fatalf("unexpected error compiling rules: %v", err)
	}
	return r
}

func emailRule() Rule {
	return Rule{Pattern: `[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`, Replacement: "[EMAIL]"}
}

func TestNew_InvalidPattern(t *testing.T) {
	t.Parallel()
	_, err := New([]Rule{{Pattern: `([`, Replacement: "x"}})
	if err == nil {
		t.Fatal("expected error for invalid regex pattern")
	}
}

func TestActive(t *testing.T) {
	t.Parallel()
	if mustNew(t, nil).Active() {
		t.Fatal("expected no rules to be inactive")
	}
	if !mustNew(t, []Rule{emailRule()}).Active() {
		t.Fatal("expected configured rules to be active")
	}
}

func TestApplyRows_StringField(t *testing.T) {
	t.Parallel()
	r := mustNew(t, []Rule{emailRule()})
	rows := []map[string]interface{}{
		{"id": int64(1), "email": "alice@example.com"},
	}
	out := r.ApplyRows(rows)
	if out[0]["email"] != "[EMAIL]" {
		t.Fatalf("expected email redacted, got %v", out[0]["email"])
	}
	if out[0]["id"] != int64(1) {
		t.Fatalf("expected non-string field untouched, got %v", out[0]["id"])
	}
}

func TestApplyRows_RulesRunInOrder(t *testing.T) {
	t.Parallel()
	r := mustNew(t, []Rule{
		{Pattern: `secret`, Replacement: "hidden"},
		{Pattern: `hidden`, Replacement: "gone"},
	})
	rows := []map[string]interface{}{{"v": "secret"}}
	out := r.ApplyRows(rows)
	if out[0]["v"] != "gone" {
		t.Fatalf("expected rules applied in order, got %v", out[0]["v"])
	}
}

func TestApplyRows_NestedJSONB(t *testing.T) {
	t.Parallel()
	r := mustNew(t, []Rule{emailRule()})
	rows := []map[string]interface{}{
		{
			"payload": map[string]interface{}{
				"contact": "bob@example.com",
				"tags":    []interface{}{"x", "carol@example.com"},
			},
		},
	}
	out := r.ApplyRows(rows)
	payload := out[0]["payload"].(map[string]interface{})
	if payload["contact"] != "[EMAIL]" {
		t.Fatalf("expected nested object value redacted, got %v", payload["contact"])
	}
	tags := payload["tags"].([]interface{})
	if tags[1] != "[EMAIL]" {
		t.Fatalf("expected array element redacted, got %v", tags[1])
	}
	if tags[0] != "x" {
		t.Fatalf("expected non-matching element untouched, got %v", tags[0])
	}
}

func TestApplyRows_NoRulesPassthrough(t *testing.T) {
	t.Parallel()
	r := mustNew(t, nil)
	rows := []map[string]interface{}{{"email": "alice@example.com"}}
	out := r.ApplyRows(rows)
	if out[0]["email"] != "alice@example.com" {
		t.Fatalf("expected passthrough with no rules, got %v", out[0]["email"])
	}
}
