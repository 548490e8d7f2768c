// Package tool implements the action interpreter: it extracts tool calls
// from a model turn, checks each against a Policy, dispatches them through a
// Registry of Tool implementations, and returns Results in the caller's
// input order. See Interpreter for the pipeline's entry point.
package tool

import "context"

// Tool is anything the Interpreter can dispatch a Call to. Name must match
// the name the model used when requesting the call; Call does the actual
// work and converts any failure into an error rather than panicking, since
// Interpreter.Dispatch turns a returned error into a Result with Err set
// rather than aborting the batch.
type Tool interface {
	// Name is the identifier Call routes on. Registry keys tools by this
	// value, so it must be stable and unique within a Registry.
	Name() string

	// Call executes the tool against input and returns its output, or an
	// error describing why it couldn't. Should respect ctx cancellation
	// for anything that blocks.
	Call(ctx context.Context, input map[string]interface{}) (map[string]interface{}, error)
}
