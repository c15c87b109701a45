// Package asr is the speech recognition client.
//
// Recognize tries the synchronous flash endpoint for every candidate resource
// id, then the submit/query endpoints for the same candidates. A response
// that says the credentials lack a grant for a resource id moves on to the
// next candidate; any other failure is returned immediately. When every
// candidate is refused the returned services.ServiceError carries one trace
// entry per attempt so a misconfigured credential can be diagnosed from a
// single error string.
package asr
