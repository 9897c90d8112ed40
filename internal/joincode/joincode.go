package joincode

import "math/rand"

// Length of every join code. Short enough to read out loud, long enough
// that collisions stay rare.
const Length = 6

const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Generate returns one uniformly random candidate code.
func Generate() string {
	b := make([]byte, Length)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// Allocate returns a code not yet present according to exists. Callers run
// it inside the same store transaction that creates the team, so the
// uniqueness check and the insert cannot race.
func Allocate(exists func(string) bool) string {
	return allocate(Generate, exists)
}

func allocate(gen func() string, exists func(string) bool) string {
	for {
		code := gen()
		if !exists(code) {
			return code
		}
	}
}
