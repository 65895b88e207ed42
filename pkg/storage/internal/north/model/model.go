// Package model holds a Person type whose package name collides with
// internal/south/model, for type tag tests.
package model

// Person is shaped exactly like south's Person.
type Person struct {
	Name string
	Age  int
}
