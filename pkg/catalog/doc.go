// Package catalog is the read-only port to the externally owned pet and
// group catalog.
//
// The search core only ever calls ListPets, ListGroups and Ping. Three
// adapters are provided:
//
//	Memory         in-process snapshot, used by tests and embedding callers
//	SQLiteCatalog  client-local key/value table with JSON arrays under
//	               the "pets" and "groups" keys
//	FileCatalog    JSON snapshot file, reloaded on change through fsnotify
//
// Open selects an adapter from configuration.
package catalog
