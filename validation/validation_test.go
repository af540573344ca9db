package validation

import (
	"errors"
	"testing"
)

type sample struct {
	Lang   string  `json:"lang" validate:"required,len=2"`
	Rate   float64 `json:"rate" validate:"gte=0,lte=100"`
	Format string  `json:"format" validate:"oneof=space comma none"`
}

func TestStruct(t *testing.T) {
	tests := []struct {
		name string
		in   sample
		want Violations
	}{
		{"valid", sample{Lang: "ar", Rate: 19, Format: "space"}, Violations{}},
		{"missing lang", sample{Rate: 19, Format: "none"}, Violations{"lang": "required"}},
		{"bad rate and format", sample{Lang: "fr", Rate: -1, Format: "dots"}, Violations{"rate": "out_of_range", "format": "invalid_choice"}},
		{"long lang", sample{Lang: "ara", Format: "comma"}, Violations{"lang": "invalid_length"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Struct(tt.in)
			if len(got) != len(tt.want) {
				t.Fatalf("Struct() = %v, want %v", got, tt.want)
			}
			for f, c := range tt.want {
				if got[f] != c {
					t.Errorf("Struct()[%q] = %q, want %q", f, got[f], c)
				}
			}
		})
	}
}

func TestCheck(t *testing.T) {
	if err := Check(sample{Lang: "ar", Format: "space"}); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	err := Check(sample{Lang: "ar", Rate: 120, Format: "space"})
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	var verr *Error
	if !errors.As(err, &verr) || verr.Violations["rate"] != "out_of_range" {
		t.Fatalf("expected rate violation, got %v", err)
	}
	if err.Error() != "validation failed: rate=out_of_range" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestBasicValidators(t *testing.T) {
	v := Violations{}
	Required("name", "  ", v)
	PositiveFloat("price", 0, v)
	PositiveFloat("quantity", 2, v)
	if v["name"] != "required" || v["price"] != "must_be_positive" {
		t.Fatalf("unexpected violations %v", v)
	}
	if _, ok := v["quantity"]; ok {
		t.Fatalf("quantity should be valid")
	}
	if v.Empty() {
		t.Fatalf("expected violations")
	}
}
