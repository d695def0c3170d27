// Package prompts contains all LLM prompt templates used by the assistant.
//
// Prompt text is Go code rather than config files because it is program logic:
// templates use fmt.Sprintf interpolation, benefit from compile-time embedding,
// and can be validated by tests. User-facing configuration lives in config.yaml;
// this package holds the instructions we send to the model at each pipeline
// stage and the fixed replies spoken when a stage cannot answer.
//
// Convention: each stage gets its own file (planner.go, selector.go,
// summariser.go, classic.go) with an exported function that accepts the
// dynamic parts and returns the fully interpolated prompt string.
package prompts
