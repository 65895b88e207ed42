// Package storage persists Go values as files under a per-application
// directory in the user's home directory.
//
// A Storage is bound to one root, <home>/<name>, resolved once by New. Values
// are written with Write and read back with Read, which checks the stored type
// tag against the requested type. The root also holds an empty marker file,
// notFirstStart, whose presence records that the application has completed its
// first start. ResetAllData removes the whole root.
//
// Files are gob envelopes:
//
//	"GOBJ" | version | gob(header{Type}) | gob(value)
//
// Round trips follow gob semantics: empty slices and maps, at the top level or
// in fields, are read back as nil. Compare them by length rather than with
// reflect.DeepEqual.
//
// There is no locking. Two processes writing the same root race at the file
// system level.
package storage
