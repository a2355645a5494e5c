// Package gdrive provides a DocumentStore backed by a Google Drive folder.
//
// Documents are written under a slash separated folder path that is created
// on first use. A new document is uploaded under a staging name, its MD5 is
// checked against the local bytes and only then is it renamed to the final
// name. An existing document is replaced with a new revision of the same file,
// so a name never refers to more than one file.
//
// All API calls go through a token bucket rate limiter. Rate limit, quota and
// 5xx responses are reported as transient so the caller may retry.
package gdrive
