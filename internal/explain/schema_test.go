package explain

import (
	"reflect"
	"strings"
	"testing"
)

func TestValidateSchema_Valid(t *testing.T) {
	t.Parallel()

	b, _ := authBundle(t)
	exp, errs := ValidateSchema([]byte(validResponse), b)
	if len(errs) > 0 {
		t.Fatalf("errors = %v", errs)
	}
	if exp.Confidence != ConfidenceMedium {
		t.Errorf("Confidence = %q, want medium", exp.Confidence)
	}
	if !reflect.DeepEqual(exp.ReferencedLineNumbers, []int{1, 2, 5}) {
		t.Errorf("ReferencedLineNumbers = %v", exp.ReferencedLineNumbers)
	}
	if len(exp.LikelyCauses) != 1 || !reflect.DeepEqual(exp.LikelyCauses[0].EvidenceLineNumbers, []int{1, 2}) {
		t.Errorf("LikelyCauses = %+v", exp.LikelyCauses)
	}
	if len(exp.Caveats) != 1 {
		t.Errorf("Caveats = %v", exp.Caveats)
	}
}

func TestValidateSchema_Errors(t *testing.T) {
	t.Parallel()

	b, _ := authBundle(t)

	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{
			name: "not json",
			raw:  `here is my answer`,
			want: []string{"Response is not valid JSON"},
		},
		{
			name: "not an object",
			raw:  `[1,2]`,
			want: []string{"Response is not a JSON object"},
		},
		{
			name: "missing fields stop early",
			raw:  `{"incident_title":"x","confidence":"certain"}`,
			want: []string{
				"Missing required field: what_happened",
				"Missing required field: likely_causes",
				"Missing required field: recommended_next_steps",
				"Missing required field: referenced_line_numbers",
			},
		},
		{
			name: "bad confidence",
			raw:  `{"incident_title":"x","what_happened":"y","likely_causes":[],"recommended_next_steps":[],"confidence":"certain","referenced_line_numbers":[]}`,
			want: []string{"Invalid confidence value: certain"},
		},
		{
			name: "invalid cited line",
			raw:  `{"incident_title":"x","what_happened":"y","likely_causes":[{"hypothesis":"h","evidence_line_numbers":[1,42]}],"recommended_next_steps":[],"confidence":"low","referenced_line_numbers":[1]}`,
			want: []string{"likely_causes[0] cites invalid line number 42 (valid: [1, 2, 3, 4, 5])"},
		},
		{
			name: "cited not referenced",
			raw:  `{"incident_title":"x","what_happened":"y","likely_causes":[{"hypothesis":"h","evidence_line_numbers":[1,3]}],"recommended_next_steps":[],"confidence":"low","referenced_line_numbers":[1]}`,
			want: []string{"referenced_line_numbers missing cited lines: [3]"},
		},
		{
			name: "referenced invalid",
			raw:  `{"incident_title":"x","what_happened":"y","likely_causes":[],"recommended_next_steps":[],"confidence":"low","referenced_line_numbers":[9,1,7]}`,
			want: []string{"referenced_line_numbers contains invalid lines: [7, 9]"},
		},
		{
			name: "structural problems",
			raw:  `{"incident_title":"x","what_happened":"y","likely_causes":["oops",{"evidence_line_numbers":"1"},{"hypothesis":"h","evidence_line_numbers":[1.5]}],"recommended_next_steps":"check","confidence":"low","referenced_line_numbers":{}}`,
			want: []string{
				"recommended_next_steps must be a list of strings",
				"likely_causes[0] must be an object",
				"likely_causes[1] missing hypothesis",
				"likely_causes[1].evidence_line_numbers must be a list",
				"likely_causes[2] has non-integer line number: 1.5",
				"referenced_line_numbers must be a list",
			},
		},
		{
			name: "likely_causes not a list",
			raw:  `{"incident_title":"x","what_happened":"y","likely_causes":{},"recommended_next_steps":[],"confidence":"high","referenced_line_numbers":[]}`,
			want: []string{"likely_causes must be a list"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			exp, errs := ValidateSchema([]byte(tt.raw), b)
			if exp != nil {
				t.Errorf("explanation = %+v, want nil", exp)
			}
			if !reflect.DeepEqual(errs, tt.want) {
				t.Errorf("errors:\n got  %s\n want %s", strings.Join(errs, " | "), strings.Join(tt.want, " | "))
			}
		})
	}
}

func TestValidateSchema_CaveatsOptional(t *testing.T) {
	t.Parallel()

	b, _ := authBundle(t)
	raw := `{"incident_title":"x","what_happened":"y","likely_causes":[{"hypothesis":"h","evidence_line_numbers":[2]}],"recommended_next_steps":["a"],"confidence":"low","referenced_line_numbers":[2,2]}`
	exp, errs := ValidateSchema([]byte(raw), b)
	if len(errs) > 0 {
		t.Fatalf("errors = %v", errs)
	}
	if exp.Caveats != nil {
		t.Errorf("Caveats = %v, want nil", exp.Caveats)
	}
	if !reflect.DeepEqual(exp.ReferencedLineNumbers, []int{2}) {
		t.Errorf("ReferencedLineNumbers = %v, want deduplicated [2]", exp.ReferencedLineNumbers)
	}
}
