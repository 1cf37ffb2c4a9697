package taproot

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Assertion states an expected resolution: the reference at Reference
// binds to exactly the definitions at Defined, matched by file and node
// id. An empty Defined list asserts the reference resolves to nothing.
// Test harnesses build these from source annotations and check whole
// files at once with Engine.Verify.
type Assertion struct {
	Reference Site   `json:"reference"`
	Defined   []Site `json:"defined"`
}

// AssertionError reports one failed assertion: the expected definitions
// no binding reached, and the definitions reached but not expected.
type AssertionError struct {
	Reference  Site
	Missing    []Site
	Unexpected []Site
}

func (e *AssertionError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "assertion failed for reference %s", siteKey(e.Reference))
	if len(e.Missing) > 0 {
		fmt.Fprintf(&sb, ": not defined at %s", joinSites(e.Missing))
	}
	if len(e.Unexpected) > 0 {
		fmt.Fprintf(&sb, "; unexpectedly defined at %s", joinSites(e.Unexpected))
	}
	return sb.String()
}

// Verify resolves each assertion's reference and checks the definitions
// found against its expected set, stopping at the first failure. Query
// errors (unknown nodes, incomplete paths, cancellation) surface as-is.
func (e *Engine) Verify(ctx context.Context, assertions []Assertion) error {
	for _, a := range assertions {
		bindings, err := e.FindDefinitions(ctx, a.Reference.File, a.Reference.LocalID)
		if err != nil {
			return err
		}
		if aerr := a.check(bindings); aerr != nil {
			return aerr
		}
	}
	return nil
}

func (a Assertion) check(bindings []Binding) *AssertionError {
	expected := make(map[string]Site, len(a.Defined))
	for _, s := range a.Defined {
		expected[siteKey(s)] = s
	}
	var unexpected []Site
	for _, b := range bindings {
		key := siteKey(b.Definition)
		if _, ok := expected[key]; ok {
			delete(expected, key)
			continue
		}
		unexpected = append(unexpected, b.Definition)
	}
	if len(expected) == 0 && len(unexpected) == 0 {
		return nil
	}
	missing := make([]Site, 0, len(expected))
	for _, s := range expected {
		missing = append(missing, s)
	}
	sort.Slice(missing, func(i, j int) bool {
		return siteKey(missing[i]) < siteKey(missing[j])
	})
	return &AssertionError{Reference: a.Reference, Missing: missing, Unexpected: unexpected}
}

func siteKey(s Site) string {
	return fmt.Sprintf("%s#%d", s.File, s.LocalID)
}

func joinSites(sites []Site) string {
	keys := make([]string, len(sites))
	for i, s := range sites {
		keys[i] = siteKey(s)
	}
	return strings.Join(keys, ", ")
}
