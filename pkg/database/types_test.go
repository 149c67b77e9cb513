package database

import (
	"reflect"
	"testing"
)

func TestStringArrayScan(t *testing.T) {
	tests := []struct {
		name  string
		input interface{}
		want  StringArray
	}{
		{"nil", nil, nil},
		{"json bytes", []byte(`["💪","🌟"]`), StringArray{"💪", "🌟"}},
		{"json string", `["a","b,c"]`, StringArray{"a", "b,c"}},
		{"empty", "", StringArray{}},
		{"bare value", "glow", StringArray{"glow"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got StringArray
			if err := got.Scan(tt.input); err != nil {
				t.Fatalf("Scan() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Scan() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestStringArrayScanRejectsUnknownType(t *testing.T) {
	var got StringArray
	if err := got.Scan(42); err == nil {
		t.Fatal("expected error for int input")
	}
}

func TestStringArrayValue(t *testing.T) {
	v, err := StringArray{"🌅", "✨"}.Value()
	if err != nil {
		t.Fatalf("Value() error = %v", err)
	}
	if v != `["🌅","✨"]` {
		t.Errorf("Value() = %v", v)
	}

	v, err = StringArray(nil).Value()
	if err != nil || v != nil {
		t.Errorf("nil Value() = %v, %v", v, err)
	}
}
