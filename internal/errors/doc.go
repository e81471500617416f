// Package errors provides coded, actionable errors for the urlsync CLI and
// its configuration and scenario files.
//
// Each code (e.g. "U002") maps to a category, a short message and a longer
// explanation. Errors raised while decoding YAML carry the offending line,
// and Format prints the surrounding lines of the file:
//
//	err := errors.New("U021").
//	    WithLocation("scenarios/burst.yaml", 7, 5).
//	    WithSuggestion("Valid steps: set, delete, increment, advance, back, unmount")
//
//	fmt.Println(err.Format())
//	// Output:
//	// ERROR U021: Unknown scenario step
//	//
//	//   scenarios/burst.yaml:7:5
//	//
//	//        5 │   - set: {key: q, value: go}
//	//        6 │   - advance: 10ms
//	//   →    7 │   - jump: 3
//	//          │     ^
//	//
//	//   Hint: Valid steps: set, delete, increment, advance, back, unmount
package errors
