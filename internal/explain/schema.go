package explain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/linnemanlabs/signaltrace/internal/evidence"
)

var requiredFields = []string{
	"incident_title",
	"what_happened",
	"likely_causes",
	"recommended_next_steps",
	"confidence",
	"referenced_line_numbers",
}

// ValidateSchema checks a raw explainer response against the expected shape
// and against the sample line numbers in b. On any error the explanation is
// nil and every problem found is returned.
func ValidateSchema(raw []byte, b *evidence.Bundle) (*Explanation, []string) {
	if !gjson.ValidBytes(raw) {
		return nil, []string{"Response is not valid JSON"}
	}
	obj := gjson.ParseBytes(raw)
	if !obj.IsObject() {
		return nil, []string{"Response is not a JSON object"}
	}
	fields := obj.Map()

	var errs []string
	for _, f := range requiredFields {
		if _, ok := fields[f]; !ok {
			errs = append(errs, "Missing required field: "+f)
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	valid := b.LineNumbers()
	exp := &Explanation{}

	if v := fields["incident_title"]; v.Type != gjson.String {
		errs = append(errs, "incident_title must be a string")
	} else {
		exp.Title = v.Str
	}
	if v := fields["what_happened"]; v.Type != gjson.String {
		errs = append(errs, "what_happened must be a string")
	} else {
		exp.WhatHappened = v.Str
	}

	if v := fields["confidence"]; v.Type != gjson.String || !Confidence(v.Str).valid() {
		errs = append(errs, "Invalid confidence value: "+displayValue(v))
	} else {
		exp.Confidence = Confidence(v.Str)
	}

	steps, ok := stringList(fields["recommended_next_steps"])
	if !ok {
		errs = append(errs, "recommended_next_steps must be a list of strings")
	}
	exp.NextSteps = steps

	if v, present := fields["caveats"]; present && v.Type != gjson.Null {
		caveats, ok := stringList(v)
		if !ok {
			errs = append(errs, "caveats must be a list of strings")
		}
		exp.Caveats = caveats
	}

	cited := make(map[int]struct{})
	causes := fields["likely_causes"]
	if !causes.IsArray() {
		errs = append(errs, "likely_causes must be a list")
	} else {
		for i, cause := range causes.Array() {
			if !cause.IsObject() {
				errs = append(errs, fmt.Sprintf("likely_causes[%d] must be an object", i))
				continue
			}
			cf := cause.Map()

			var c Cause
			if h, ok := cf["hypothesis"]; !ok {
				errs = append(errs, fmt.Sprintf("likely_causes[%d] missing hypothesis", i))
			} else if h.Type != gjson.String {
				errs = append(errs, fmt.Sprintf("likely_causes[%d].hypothesis must be a string", i))
			} else {
				c.Hypothesis = h.Str
			}

			lines, present := cf["evidence_line_numbers"]
			switch {
			case !present:
			case !lines.IsArray():
				errs = append(errs, fmt.Sprintf("likely_causes[%d].evidence_line_numbers must be a list", i))
			default:
				for _, ln := range lines.Array() {
					n, ok := integer(ln)
					switch {
					case !ok:
						errs = append(errs, fmt.Sprintf("likely_causes[%d] has non-integer line number: %s", i, displayValue(ln)))
					case !contains(valid, n):
						errs = append(errs, fmt.Sprintf("likely_causes[%d] cites invalid line number %d (valid: %s)", i, n, formatInts(sortedKeys(valid))))
					default:
						cited[n] = struct{}{}
						c.EvidenceLineNumbers = append(c.EvidenceLineNumbers, n)
					}
				}
			}
			exp.LikelyCauses = append(exp.LikelyCauses, c)
		}
	}

	refs := fields["referenced_line_numbers"]
	if !refs.IsArray() {
		errs = append(errs, "referenced_line_numbers must be a list")
	} else {
		referenced := make(map[int]struct{})
		for _, r := range refs.Array() {
			n, ok := integer(r)
			if !ok {
				errs = append(errs, "referenced_line_numbers has non-integer entry: "+displayValue(r))
				continue
			}
			referenced[n] = struct{}{}
		}

		var missing, invalid []int
		for n := range cited {
			if !contains(referenced, n) {
				missing = append(missing, n)
			}
		}
		for n := range referenced {
			if !contains(valid, n) {
				invalid = append(invalid, n)
			}
		}
		if len(missing) > 0 {
			sort.Ints(missing)
			errs = append(errs, "referenced_line_numbers missing cited lines: "+formatInts(missing))
		}
		if len(invalid) > 0 {
			sort.Ints(invalid)
			errs = append(errs, "referenced_line_numbers contains invalid lines: "+formatInts(invalid))
		}
		exp.ReferencedLineNumbers = sortedKeys(referenced)
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return exp, nil
}

// integer accepts JSON numbers written without fraction or exponent.
func integer(v gjson.Result) (int, bool) {
	if v.Type != gjson.Number || strings.ContainsAny(v.Raw, ".eE") {
		return 0, false
	}
	n, err := strconv.Atoi(v.Raw)
	if err != nil {
		return 0, false
	}
	return n, true
}

func stringList(v gjson.Result) ([]string, bool) {
	if !v.IsArray() {
		return nil, false
	}
	items := v.Array()
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item.Type != gjson.String {
			return nil, false
		}
		out = append(out, item.Str)
	}
	return out, true
}

func displayValue(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return "null"
	default:
		return v.Raw
	}
}

func contains(set map[int]struct{}, n int) bool {
	_, ok := set[n]
	return ok
}

func sortedKeys(set map[int]struct{}) []int {
	out := make([]int, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

func formatInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
