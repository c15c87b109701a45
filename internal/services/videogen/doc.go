// Package videogen submits remote video generation tasks, polls them to a
// terminal state, and downloads the produced clip.
//
// Submit walks an ordered list of request shapes because the remote schema
// for duration and resolution is not fixed; only 400 and 422 responses move
// on to the next shape.
package videogen
