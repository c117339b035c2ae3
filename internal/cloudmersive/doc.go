// Package cloudmersive is a small client for the Cloudmersive document
// conversion API. Each supported conversion is a POST of one multipart
// file to a capability path; the response body is the converted file.
//
// Client satisfies convert.Backend.
package cloudmersive
