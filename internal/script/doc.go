// Package script validates generated hook scripts and builds the prompts sent
// to the text and video generation services.
package script
