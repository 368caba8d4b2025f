package validate

import (
	"errors"
	"strings"
	"testing"
)

type registration struct {
	Name string `json:"name" validate:"required"`
	NISN string `json:"nisn" validate:"required,numeric"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name       string
		in         registration
		wantFields []string
	}{
		{"valid", registration{Name: "Budi", NISN: "123"}, nil},
		{"missing name", registration{NISN: "123"}, []string{"name"}},
		{"non-numeric nisn", registration{Name: "Budi", NISN: "12a"}, []string{"nisn"}},
		{"both missing", registration{}, []string{"name", "nisn"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Struct(tt.in)
			if len(tt.wantFields) == 0 {
				if err != nil {
					t.Fatalf("Struct() = %v, want nil", err)
				}
				return
			}
			var ve *Error
			if !errors.As(err, &ve) {
				t.Fatalf("Struct() = %v, want *Error", err)
			}
			if len(ve.Fields) != len(tt.wantFields) {
				t.Fatalf("fields = %v, want %v", ve.Fields, tt.wantFields)
			}
			for _, f := range tt.wantFields {
				msg, ok := ve.Fields[f]
				if !ok {
					t.Errorf("missing field %q in %v", f, ve.Fields)
				}
				if !strings.Contains(msg, f) {
					t.Errorf("message %q should name field %q", msg, f)
				}
			}
		})
	}
}
