// Package checking verifies properties of the histories produced by a run.
package checking

// The Checker verifies that properties hold for the outcome of a run.
type Checker interface {
	// Verify that the configured properties hold for the provided state
	Check(s State) CheckerResponse
}

// CheckerResponse is a response returned by a Checker
//
// Contains the result of checking the run.
type CheckerResponse interface {
	// Create a response.
	//
	// Returns a boolean that is true if all properties hold, false otherwise.
	// Returns a string describing the response.
	// This should include a description of which property is violated.
	Response() (bool, string)
}
