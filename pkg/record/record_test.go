package record

import (
	"reflect"
	"testing"
)

func TestFormatValue(t *testing.T) {
	tests := []struct {
		name  string
		value any
		want  string
	}{
		{"nil", nil, ""},
		{"string", "abc", "abc"},
		{"integral float", float64(12), "12"},
		{"fractional float", 1.5, "1.5"},
		{"bool true", true, "True"},
		{"bool false", false, "False"},
		{"int", 7, "7"},
		{"list", []any{"a", float64(1)}, `["a",1]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.value); got != tt.want {
				t.Errorf("FormatValue(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestProject(t *testing.T) {
	r := Record{"id": "1", "crsid": "abc12", "extra": "dropped", "nil": nil}

	got := r.Project([]string{"crsid", "id", "missing", "nil"})
	want := Record{"crsid": "abc12", "id": "1", "missing": "", "nil": ""}

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Project() = %v, want %v", got, want)
	}
	if _, ok := r["missing"]; ok {
		t.Error("Project() must not mutate the source record")
	}
}

func TestRowRoundTrip(t *testing.T) {
	header := []string{"id", "updatedAt", "issueNumber"}
	r := Record{"id": "9", "updatedAt": "2021-01-01T00:00:00Z", "issueNumber": float64(2)}

	row := r.Row(header)
	if !reflect.DeepEqual(row, []string{"9", "2021-01-01T00:00:00Z", "2"}) {
		t.Fatalf("Row() = %v", row)
	}

	back := FromRow(header, row)
	if back.ID() != "9" || back.String("issueNumber") != "2" {
		t.Errorf("FromRow() = %v", back)
	}
}

func TestFromRow_ShortRow(t *testing.T) {
	r := FromRow([]string{"id", "name"}, []string{"1"})
	if r.String("name") != "" {
		t.Errorf("expected blank name, got %q", r.String("name"))
	}
}

func TestMerge(t *testing.T) {
	got := Merge(Record{"a": "1", "b": "2"}, Record{"b": "3"})
	if got.String("a") != "1" || got.String("b") != "3" {
		t.Errorf("Merge() = %v", got)
	}
}
