// Package event holds the records handed to the publisher, the codec that
// turns them into message bodies and the field reference syntax used to
// build routing keys.
//
// A field reference is either a top level name, %{host}, or a bracketed path
// into nested objects, %{[http][status]}. %{+yyyy.MM.dd} formats the record's
// @timestamp and %{+%s} renders it as epoch seconds.
package event
