package storage

import "testing"

func TestFilterMatch(t *testing.T) {
	body, err := Encode(map[string]any{
		"username":  "alice",
		"fixtureId": 1001,
		"kickoff":   "2024-03-16T15:00:00Z",
		"finished":  false,
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cases := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", nil, true},
		{"eq string", Where(Eq("username", "alice")), true},
		{"eq int", Where(Eq("fixtureId", 1001)), true},
		{"eq bool", Where(Eq("finished", false)), true},
		{"eq bool mismatch", Where(Eq("finished", true)), false},
		{"eq missing field", Where(Eq("round", "x")), false},
		{"ne missing field", Where(Ne("round", "x")), true},
		{"ne", Where(Ne("username", "alice")), false},
		{"in", Where(In("fixtureId", []int{1, 1001})), true},
		{"in miss", Where(In("username", []string{"bob"})), false},
		{"lt time across zones", Where(Cond{Field: "kickoff", Op: OpLt, Value: "2024-03-16T16:30:00+01:00"}), true},
		{"gte time", Where(Cond{Field: "kickoff", Op: OpGte, Value: "2024-03-16T15:00:01Z"}), false},
		{"mixed types", Where(Cond{Field: "fixtureId", Op: OpGt, Value: "1000"}), false},
		{"conjunction", Where(Eq("username", "alice"), Cond{Field: "fixtureId", Op: OpLte, Value: 1000}), false},
	}
	for _, tc := range cases {
		if got := tc.filter.Match(body); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestFilterValidate(t *testing.T) {
	if err := Where(Cond{Field: "", Op: OpEq}).Validate(); err == nil {
		t.Error("empty field should be rejected")
	}
	if err := Where(Cond{Field: "a", Op: OpIn, Value: "x"}).Validate(); err == nil {
		t.Error("in without a list should be rejected")
	}
	if err := Where(Cond{Field: "a", Op: "regex"}).Validate(); err == nil {
		t.Error("unknown op should be rejected")
	}
	if err := Where(In("a", []int64{1})).Validate(); err != nil {
		t.Errorf("valid filter rejected: %v", err)
	}
}
