// Package identity turns a bearer credential into a stable subject id.
package identity
