/*
Package randx provides functions for generating cryptographically secure random identifiers.

It is used to generate connection handles for freshly accepted WebSocket
sessions and collision-resistant UUID message IDs.
*/
package randx

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Base62Chars defines the character set used for Base62 encoding (0-9, A-Z, a-z).
	Base62Chars = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

	// Base62Len is the total number of characters in the Base62 character set (62).
	Base62Len = int64(len(Base62Chars))

	// ConnIDPrefix is the prefix of server-generated connection handles.
	ConnIDPrefix = "conn_"

	// ConnIDRawLength is the length of the random Base62 part of a connection handle.
	ConnIDRawLength = 12
)

// base62String generates a Base62 string of the given length using crypto/rand.
func base62String(length int) (string, error) {
	result := make([]byte, length)

	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(Base62Len))
		if err != nil {
			return "", err
		}

		result[i] = Base62Chars[num.Int64()]
	}

	return string(result), nil
}

// ConnectionID generates a unique handle for a newly accepted connection.
// It falls back to a UUID if the system entropy source fails.
func ConnectionID() string {
	raw, err := base62String(ConnIDRawLength)
	if err != nil {
		return ConnIDPrefix + uuid.New().String()
	}

	return ConnIDPrefix + raw
}

// MessageID generates a standard UUID v4 string to serve as a unique identifier for a message.
func MessageID() string {
	return uuid.New().String()
}
