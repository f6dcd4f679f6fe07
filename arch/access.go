package arch

// Access is the kind of memory access being translated.
type Access int

//go:generate go tool stringer -linecomment -type=Access
const (
	ACCESS_READ  = Access(0) // read
	ACCESS_WRITE = Access(1) // write
	ACCESS_FETCH = Access(2) // fetch
)
