// Package llm provides the chat completions client used for transcript
// polishing and hook script generation.
//
// The client sends one system/user prompt pair per call with an explicit
// temperature and never retries: a non-2xx response surfaces as a
// services.ServiceError classified by status code. Response payloads are not
// modelled as concrete types; ExtractText walks the decoded tree instead.
//
// ExtractFirstJSONObject recovers the JSON object a model was asked to emit
// from fenced or prose-wrapped output.
package llm
