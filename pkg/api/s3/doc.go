// Package s3 implements the HTTP wire layer for the storage engine: a
// path-style subset of the S3 API covering bucket create/delete/list and
// object put/get/head/delete, with XML response and error envelopes.
package s3
