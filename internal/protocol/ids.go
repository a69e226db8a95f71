package protocol

import nanoid "github.com/matoous/go-nanoid/v2"

// ID prefixes for server-assigned identifiers.
const (
	PrefixSession      = "sess_"
	PrefixConversation = "conv_"
	PrefixItem         = "item_"
	PrefixResponse     = "resp_"
	PrefixCall         = "call_"
)

const (
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
	idLength   = 20
)

// NewID returns prefix followed by a random alphanumeric suffix.
func NewID(prefix string) string {
	return prefix + nanoid.MustGenerate(idAlphabet, idLength)
}
