package toolgate

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestConvertValue_Nil(t *testing.T) {
	t.Parallel()
	if convertValue(nil) != nil {
		t.Fatal("expected nil to pass through")
	}
}

func TestConvertValue_Time(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 8, 30, 12, 0, 0, 500000000, time.UTC)
	got := convertValue(at)
	if got != "2026-08-30T12:00:00.5Z" {
		t.Fatalf("expected RFC3339Nano string, got %v", got)
	}
}

func TestConvertValue_SpecialFloats(t *testing.T) {
	t.Parallel()
	if convertValue(math.NaN()) != "NaN" {
		t.Fatal("expected NaN as string")
	}
	if convertValue(math.Inf(1)) != "Infinity" {
		t.Fatal("expected +Inf as string")
	}
	if convertValue(math.Inf(-1)) != "-Infinity" {
		t.Fatal("expected -Inf as string")
	}
	if convertValue(float64(1.5)) != 1.5 {
		t.Fatal("expected ordinary float unchanged")
	}
}

func TestConvertValue_UUID(t *testing.T) {
	t.Parallel()
	var raw [16]byte
	for i := range raw {
		raw[i] = byte(i)
	}
	got := convertValue(raw)
	if got != "00010203-0405-0607-0809-0a0b0c0d0e0f" {
		t.Fatalf("expected formatted UUID, got %v", got)
	}
}

func TestConvertValue_Bytea(t *testing.T) {
	t.Parallel()
	got := convertValue([]byte("hi"))
	if got != "aGk=" {
		t.Fatalf("expected base64 bytea, got %v", got)
	}
}

func TestConvertValue_NestedJSON(t *testing.T) {
	t.Parallel()
	in := map[string]interface{}{
		"at":   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		"list": []interface{}{math.NaN()},
	}
	got := convertValue(in).(map[string]interface{})
	if got["at"] != "2026-01-01T00:00:00Z" {
		t.Fatalf("expected nested time converted, got %v", got["at"])
	}
	if got["list"].([]interface{})[0] != "NaN" {
		t.Fatalf("expected nested NaN converted, got %v", got["list"])
	}
}

func TestTruncateForLog(t *testing.T) {
	t.Parallel()
	if got := truncateForLog("short", 10); got != "short" {
		t.Fatalf("expected unchanged, got %q", got)
	}
	got := truncateForLog(strings.Repeat("a", 20), 10)
	if got != strings.Repeat("a", 10)+"...[truncated]" {
		t.Fatalf("unexpected truncation: %q", got)
	}
}

func TestShrinkToResultBound(t *testing.T) {
	t.Parallel()
	g := &Gateway{}
	g.config.Query.MaxResultLength = 60

	result := &QueryResult{RowCount: 8}
	for i := 0; i < 8; i++ {
		result.Rows = append(result.Rows, map[string]interface{}{"v": strings.Repeat("x", 20)})
	}
	g.shrinkToResultBound(result)

	if !result.Truncated {
		t.Fatal("expected result marked truncated")
	}
	if result.RowCount != len(result.Rows) {
		t.Fatalf("row count %d does not match rows %d", result.RowCount, len(result.Rows))
	}
	if len(result.Rows) == 0 || len(result.Rows) >= 8 {
		t.Fatalf("expected rows halved at least once, got %d", len(result.Rows))
	}
}

func TestShrinkToResultBound_WithinBound(t *testing.T) {
	t.Parallel()
	g := &Gateway{}
	g.config.Query.MaxResultLength = 100000

	result := &QueryResult{
		Rows:     []map[string]interface{}{{"v": "small"}},
		RowCount: 1,
	}
	g.shrinkToResultBound(result)
	if result.Truncated || result.RowCount != 1 {
		t.Fatal("expected small result untouched")
	}
}
