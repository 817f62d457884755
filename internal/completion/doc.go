// Package completion is the boundary to the hosted language model.
//
// Callers describe a conversation as a system instruction, a sequence of
// role-tagged messages and a set of tool declarations. The model answers
// with free text, with one or more structured function calls, or both.
// GeminiClient implements Client on top of google.golang.org/genai.
package completion
