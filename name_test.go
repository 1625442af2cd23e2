package bpt

import "testing"

func TestNewName(t *testing.T) {
	tt := []struct {
		in      string
		wantErr InvalidNameReason
	}{
		{"foo", ""},
		{"foo-bar", ""},
		{"foo.bar_baz", ""},
		{"a", ""},
		{"1", ""},
		{"", NameEmpty},
		{"-foo", NameLeadingPunct},
		{"foo-", NameTrailingPunct},
		{"foo--bar", NameAdjacentPunct},
		{"foo_.bar", NameAdjacentPunct},
		{"foo bar", NameInvalidCharacter},
		{"foo/bar", NameInvalidCharacter},
	}
	for _, tc := range tt {
		t.Run(tc.in, func(t *testing.T) {
			n, err := NewName(tc.in)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("NewName(%q) = %v, want success", tc.in, err)
				}
				if n.String() != tc.in {
					t.Fatalf("NewName(%q).String() = %q", tc.in, n.String())
				}
				return
			}
			if err == nil {
				t.Fatalf("NewName(%q) = nil error, want %v", tc.in, tc.wantErr)
			}
			var ine *InvalidNameError
			if !asInvalidName(err, &ine) {
				t.Fatalf("NewName(%q) error not *InvalidNameError: %v", tc.in, err)
			}
			if ine.Reason != tc.wantErr {
				t.Fatalf("NewName(%q) reason = %v, want %v", tc.in, ine.Reason, tc.wantErr)
			}
		})
	}
}

func asInvalidName(err error, target **InvalidNameError) bool {
	e, ok := err.(*InvalidNameError)
	if !ok {
		return false
	}
	*target = e
	return true
}
