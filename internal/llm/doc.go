// Package llm classifies parsed emails with an OpenAI chat model.
//
// The classifier is best-effort: when the model call fails or the reply
// cannot be parsed, Analyze returns a neutral default analysis instead
// of an error so the ingest pipeline keeps moving.
package llm
