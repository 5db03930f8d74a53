package rules

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/tidwall/gjson"
)

// errIndeterminate marks a condition whose truth could not be established
// (missing attribute, wrong runtime type). Indeterminate conditions are not
// matched: this is the documented fail-closed policy, not an error surface.
var errIndeterminate = errors.New("condition indeterminate")

// errOverBudget marks a condition that exceeded its per-predicate bound.
// The condition evaluates to false and evaluation continues.
var errOverBudget = errors.New("predicate budget exceeded")

// maxRegexPattern bounds the regex source accepted at compile time.
const maxRegexPattern = 1024

// operatorSpec couples an operator's static cost with its compile-time
// builder. The builder folds all constants (parsed regexes, semver
// constraints, geo bounds, timestamps) into the returned closure.
type operatorSpec struct {
	cost  int
	build func(value gjson.Result, opts CompileOptions) (matchFunc, error)
}

// operators is the closed set of supported condition kinds. Cheap equality
// checks carry low cost so reordering runs them before regex or geo math.
var operators = map[string]operatorSpec{
	"eq":  {cost: 1, build: buildEq(false)},
	"neq": {cost: 1, build: buildEq(true)},

	"in":     {cost: 1, build: buildIn(false)},
	"not_in": {cost: 1, build: buildIn(true)},

	"lt":      {cost: 1, build: buildNumericCmp(func(a, b float64) bool { return a < b })},
	"lte":     {cost: 1, build: buildNumericCmp(func(a, b float64) bool { return a <= b })},
	"gt":      {cost: 1, build: buildNumericCmp(func(a, b float64) bool { return a > b })},
	"gte":     {cost: 1, build: buildNumericCmp(func(a, b float64) bool { return a >= b })},
	"between": {cost: 1, build: buildBetween},

	"contains":       {cost: 2, build: buildStringPredicate(strings.Contains)},
	"starts_with":    {cost: 2, build: buildStringPredicate(strings.HasPrefix)},
	"ends_with":      {cost: 2, build: buildStringPredicate(strings.HasSuffix)},
	"eq_ignore_case": {cost: 2, build: buildStringPredicate(strings.EqualFold)},
	"matches":        {cost: 6, build: buildMatches},

	"before":        {cost: 2, build: buildTimeCmp(func(a, b time.Time) bool { return a.Before(b) })},
	"after":         {cost: 2, build: buildTimeCmp(func(a, b time.Time) bool { return a.After(b) })},
	"between_times": {cost: 2, build: buildBetweenTimes},

	"semver_eq":    {cost: 4, build: buildSemverCmp(func(c int) bool { return c == 0 })},
	"semver_lt":    {cost: 4, build: buildSemverCmp(func(c int) bool { return c < 0 })},
	"semver_lte":   {cost: 4, build: buildSemverCmp(func(c int) bool { return c <= 0 })},
	"semver_gt":    {cost: 4, build: buildSemverCmp(func(c int) bool { return c > 0 })},
	"semver_gte":   {cost: 4, build: buildSemverCmp(func(c int) bool { return c >= 0 })},
	"semver_range": {cost: 4, build: buildSemverRange},

	"geo_within": {cost: 4, build: buildGeoWithin},

	"contains_all": {cost: 3, build: buildArrayPredicate(true)},
	"contains_any": {cost: 3, build: buildArrayPredicate(false)},
}

// scalarEqual compares two JSON scalars by kind. Cross-type comparisons are
// never equal; that is a deliberate strictness, not a coercion bug.
func scalarEqual(a, b gjson.Result) bool {
	switch a.Type {
	case gjson.String:
		return b.Type == gjson.String && a.Str == b.Str
	case gjson.Number:
		return b.Type == gjson.Number && a.Num == b.Num
	case gjson.True, gjson.False:
		return (b.Type == gjson.True || b.Type == gjson.False) && a.Type == b.Type
	default:
		return false
	}
}

// isScalar reports whether a JSON value is a comparable scalar.
func isScalar(v gjson.Result) bool {
	switch v.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return true
	default:
		return false
	}
}

func buildEq(negate bool) func(gjson.Result, CompileOptions) (matchFunc, error) {
	return func(value gjson.Result, _ CompileOptions) (matchFunc, error) {
		if !isScalar(value) {
			return nil, fmt.Errorf("operand must be a scalar, got %s", value.Type)
		}
		return func(val gjson.Result) (bool, error) {
			if !isScalar(val) {
				return false, errIndeterminate
			}
			matched := scalarEqual(val, value)
			if negate {
				matched = !matched
			}
			return matched, nil
		}, nil
	}
}

func buildIn(negate bool) func(gjson.Result, CompileOptions) (matchFunc, error) {
	return func(value gjson.Result, _ CompileOptions) (matchFunc, error) {
		if !value.IsArray() {
			return nil, fmt.Errorf("operand must be an array, got %s", value.Type)
		}
		// Fold string members into a set; keep the rare non-string members
		// in a slice for linear comparison.
		members := value.Array()
		strSet := make(map[string]struct{}, len(members))
		var other []gjson.Result
		for i, m := range members {
			if !isScalar(m) {
				return nil, fmt.Errorf("operand element %d must be a scalar, got %s", i, m.Type)
			}
			if m.Type == gjson.String {
				strSet[m.Str] = struct{}{}
			} else {
				other = append(other, m)
			}
		}
		return func(val gjson.Result) (bool, error) {
			if !isScalar(val) {
				return false, errIndeterminate
			}
			found := false
			if val.Type == gjson.String {
				_, found = strSet[val.Str]
			} else {
				for _, m := range other {
					if scalarEqual(val, m) {
						found = true
						break
					}
				}
			}
			if negate {
				found = !found
			}
			return found, nil
		}, nil
	}
}

func buildNumericCmp(cmp func(a, b float64) bool) func(gjson.Result, CompileOptions) (matchFunc, error) {
	return func(value gjson.Result, _ CompileOptions) (matchFunc, error) {
		if value.Type != gjson.Number {
			return nil, fmt.Errorf("operand must be a number, got %s", value.Type)
		}
		operand := value.Num
		return func(val gjson.Result) (bool, error) {
			if val.Type != gjson.Number {
				return false, errIndeterminate
			}
			return cmp(val.Num, operand), nil
		}, nil
	}
}

func buildBetween(value gjson.Result, _ CompileOptions) (matchFunc, error) {
	bounds := value.Array()
	if !value.IsArray() || len(bounds) != 2 {
		return nil, fmt.Errorf("operand must be a [min, max] array")
	}
	if bounds[0].Type != gjson.Number || bounds[1].Type != gjson.Number {
		return nil, fmt.Errorf("operand bounds must be numbers")
	}
	lo, hi := bounds[0].Num, bounds[1].Num
	if lo > hi {
		return nil, fmt.Errorf("operand min %v exceeds max %v", lo, hi)
	}
	return func(val gjson.Result) (bool, error) {
		if val.Type != gjson.Number {
			return false, errIndeterminate
		}
		return val.Num >= lo && val.Num <= hi, nil
	}, nil
}

func buildStringPredicate(pred func(s, operand string) bool) func(gjson.Result, CompileOptions) (matchFunc, error) {
	return func(value gjson.Result, _ CompileOptions) (matchFunc, error) {
		if value.Type != gjson.String {
			return nil, fmt.Errorf("operand must be a string, got %s", value.Type)
		}
		operand := value.Str
		return func(val gjson.Result) (bool, error) {
			if val.Type != gjson.String {
				return false, errIndeterminate
			}
			return pred(val.Str, operand), nil
		}, nil
	}
}

// buildMatches compiles the pattern once (constant folding) and bounds the
// work done per evaluation: oversized inputs and over-budget matches
// evaluate to false so a malformed context cannot stall evaluation.
func buildMatches(value gjson.Result, opts CompileOptions) (matchFunc, error) {
	if value.Type != gjson.String {
		return nil, fmt.Errorf("operand must be a string pattern, got %s", value.Type)
	}
	if len(value.Str) > maxRegexPattern {
		return nil, fmt.Errorf("pattern exceeds %d bytes", maxRegexPattern)
	}
	re, err := regexp.Compile(value.Str)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %v", err)
	}
	maxInput := opts.MaxValueBytes
	budget := opts.PredicateBudget
	return func(val gjson.Result) (bool, error) {
		if val.Type != gjson.String {
			return false, errIndeterminate
		}
		if len(val.Str) > maxInput {
			return false, errOverBudget
		}
		start := time.Now()
		matched := re.MatchString(val.Str)
		if time.Since(start) > budget {
			return false, errOverBudget
		}
		return matched, nil
	}, nil
}

// temporal resolves a context value to a timestamp: RFC3339 strings and
// unix-seconds numbers are accepted.
func temporal(val gjson.Result) (time.Time, bool) {
	switch val.Type {
	case gjson.String:
		t, err := time.Parse(time.RFC3339, val.Str)
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	case gjson.Number:
		return time.Unix(int64(val.Num), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

func buildTimeCmp(cmp func(a, b time.Time) bool) func(gjson.Result, CompileOptions) (matchFunc, error) {
	return func(value gjson.Result, _ CompileOptions) (matchFunc, error) {
		operand, ok := temporal(value)
		if !ok {
			return nil, fmt.Errorf("operand must be an RFC3339 string or unix seconds")
		}
		return func(val gjson.Result) (bool, error) {
			t, ok := temporal(val)
			if !ok {
				return false, errIndeterminate
			}
			return cmp(t, operand), nil
		}, nil
	}
}

func buildBetweenTimes(value gjson.Result, _ CompileOptions) (matchFunc, error) {
	bounds := value.Array()
	if !value.IsArray() || len(bounds) != 2 {
		return nil, fmt.Errorf("operand must be a [start, end] array")
	}
	start, ok := temporal(bounds[0])
	if !ok {
		return nil, fmt.Errorf("operand start must be an RFC3339 string or unix seconds")
	}
	end, ok := temporal(bounds[1])
	if !ok {
		return nil, fmt.Errorf("operand end must be an RFC3339 string or unix seconds")
	}
	if end.Before(start) {
		return nil, fmt.Errorf("operand end precedes start")
	}
	return func(val gjson.Result) (bool, error) {
		t, ok := temporal(val)
		if !ok {
			return false, errIndeterminate
		}
		return !t.Before(start) && !t.After(end), nil
	}, nil
}

func buildSemverCmp(accept func(c int) bool) func(gjson.Result, CompileOptions) (matchFunc, error) {
	return func(value gjson.Result, _ CompileOptions) (matchFunc, error) {
		if value.Type != gjson.String {
			return nil, fmt.Errorf("operand must be a version string, got %s", value.Type)
		}
		operand, err := semver.NewVersion(value.Str)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q: %v", value.Str, err)
		}
		return func(val gjson.Result) (bool, error) {
			if val.Type != gjson.String {
				return false, errIndeterminate
			}
			v, err := semver.NewVersion(val.Str)
			if err != nil {
				return false, errIndeterminate
			}
			return accept(v.Compare(operand)), nil
		}, nil
	}
}

func buildSemverRange(value gjson.Result, _ CompileOptions) (matchFunc, error) {
	if value.Type != gjson.String {
		return nil, fmt.Errorf("operand must be a constraint string, got %s", value.Type)
	}
	constraint, err := semver.NewConstraint(value.Str)
	if err != nil {
		return nil, fmt.Errorf("invalid constraint %q: %v", value.Str, err)
	}
	return func(val gjson.Result) (bool, error) {
		if val.Type != gjson.String {
			return false, errIndeterminate
		}
		v, err := semver.NewVersion(val.Str)
		if err != nil {
			return false, errIndeterminate
		}
		return constraint.Check(v), nil
	}, nil
}

// earthRadiusKm is the mean Earth radius used by the haversine distance.
const earthRadiusKm = 6371.0

// haversineKm computes the great-circle distance between two points.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const degToRad = math.Pi / 180.0
	dLat := (lat2 - lat1) * degToRad
	dLon := (lon2 - lon1) * degToRad
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*degToRad)*math.Cos(lat2*degToRad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}

func buildGeoWithin(value gjson.Result, _ CompileOptions) (matchFunc, error) {
	if !value.IsObject() {
		return nil, fmt.Errorf("operand must be a {lat, lon, radius_km} object")
	}
	lat := value.Get("lat")
	lon := value.Get("lon")
	radius := value.Get("radius_km")
	if lat.Type != gjson.Number || lon.Type != gjson.Number || radius.Type != gjson.Number {
		return nil, fmt.Errorf("operand lat, lon, and radius_km must be numbers")
	}
	if lat.Num < -90 || lat.Num > 90 || lon.Num < -180 || lon.Num > 180 {
		return nil, fmt.Errorf("operand coordinates out of range")
	}
	if radius.Num < 0 {
		return nil, fmt.Errorf("operand radius_km must be non-negative")
	}
	centerLat, centerLon, radiusKm := lat.Num, lon.Num, radius.Num
	return func(val gjson.Result) (bool, error) {
		if !val.IsObject() {
			return false, errIndeterminate
		}
		vLat := val.Get("lat")
		vLon := val.Get("lon")
		if vLat.Type != gjson.Number || vLon.Type != gjson.Number {
			return false, errIndeterminate
		}
		return haversineKm(centerLat, centerLon, vLat.Num, vLon.Num) <= radiusKm, nil
	}, nil
}

func buildArrayPredicate(requireAll bool) func(gjson.Result, CompileOptions) (matchFunc, error) {
	return func(value gjson.Result, _ CompileOptions) (matchFunc, error) {
		members := value.Array()
		if !value.IsArray() || len(members) == 0 {
			return nil, fmt.Errorf("operand must be a non-empty array")
		}
		for i, m := range members {
			if !isScalar(m) {
				return nil, fmt.Errorf("operand element %d must be a scalar, got %s", i, m.Type)
			}
		}
		return func(val gjson.Result) (bool, error) {
			if !val.IsArray() {
				return false, errIndeterminate
			}
			elems := val.Array()
			for _, m := range members {
				found := false
				for _, e := range elems {
					if scalarEqual(e, m) {
						found = true
						break
					}
				}
				if found && !requireAll {
					return true, nil
				}
				if !found && requireAll {
					return false, nil
				}
			}
			// requireAll: every member found. !requireAll: none found.
			return requireAll, nil
		}, nil
	}
}
